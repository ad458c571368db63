package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/config"
	"github.com/Skycomm/email-ai-manager/internal/app"
	pkgconfig "github.com/Skycomm/email-ai-manager/pkg/config"
	"github.com/Skycomm/email-ai-manager/pkg/logger"
	"github.com/Skycomm/email-ai-manager/pkg/trace"
)

var rootCmd = &cobra.Command{
	Use:           "mailctl",
	Short:         "Operate the email manager",
	Long:          "Inspect tracked emails, submit approval commands and manage rules, senders and users.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config-env", "local", "Configuration environment (base.yaml plus <env>.yaml)")
	rootCmd.PersistentFlags().String("config-dir", "config", "Directory holding the YAML configuration")
	rootCmd.PersistentFlags().Bool("json", false, "Print JSON instead of tables")
	rootCmd.PersistentFlags().Bool("verbose", false, "Log at debug level to stderr")

	viper.BindPFlag("config_env", rootCmd.PersistentFlags().Lookup("config-env"))
	viper.BindPFlag("config_dir", rootCmd.PersistentFlags().Lookup("config-dir"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(
		emailsCmd(),
		auditCmd(),
		commandCmd(),
		retryCmd(),
		pollCmd(),
		rulesCmd(),
		sendersCmd(),
		userCmd(),
		secretCmd(),
	)
}

func initConfig() {
	viper.SetEnvPrefix("MAILCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetString("config_env"), viper.GetString("config_dir"))
}

// withApp opens the system in mode for the duration of fn.
func withApp(cmd *cobra.Command, mode app.Mode, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logCfg := pkgconfig.LogConfig{Level: "warn", Format: "console"}
	if viper.GetBool("verbose") {
		logCfg.Level = "debug"
	}
	log, err := logger.NewLogger(logCfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, _ := trace.Ensure(cmd.Context())
	a, err := app.Open(ctx, cfg, mode, log)
	if err != nil {
		log.Debug("Open failed", zap.Error(err))
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func jsonOutput() bool {
	return viper.GetBool("json")
}
