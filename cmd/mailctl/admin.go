package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Skycomm/email-ai-manager/internal/app"
	"github.com/Skycomm/email-ai-manager/pkg/credential"
	"github.com/Skycomm/email-ai-manager/pkg/rbac"
)

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage API operators",
	}

	var role string
	create := &cobra.Command{
		Use:   "create <username>",
		Short: "Create an API operator",
		Long:  "Create an API operator. The password is read from MAILCTL_PASSWORD or, when unset, from stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password := viper.GetString("password")
			if password == "" {
				var err error
				if password, err = readLine("Password: "); err != nil {
					return err
				}
			}
			return withApp(cmd, app.StoreOnly, func(ctx context.Context, a *app.App) error {
				u, err := a.Auth.CreateUser(ctx, args[0], password, role)
				if err != nil {
					return err
				}
				fmt.Printf("Created %s (%s) with id %d\n", u.Username, u.Role, u.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&role, "role", rbac.RoleViewer, "viewer, operator or admin")
	cmd.AddCommand(create)
	return cmd
}

// secretCmd stores connector and API secrets in the OS keyring.
func secretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets in the OS keyring",
	}
	keys := []string{
		credential.KeyGmailRefreshToken,
		credential.KeyGmailClientSecret,
		credential.KeyDraftingAPIKey,
		credential.KeyIMAPPassword,
		credential.KeySMTPPassword,
		credential.KeyJWTSecret,
	}

	set := &cobra.Command{
		Use:       "set <key>",
		Short:     "Store a secret read from stdin",
		Long:      "Store a secret read from stdin. Known keys: " + strings.Join(keys, ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: keys,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openKeyring()
			if err != nil {
				return err
			}
			value, err := readLine("Value: ")
			if err != nil {
				return err
			}
			return store.Set(args[0], value)
		},
	}
	del := &cobra.Command{
		Use:       "delete <key>",
		Short:     "Remove a secret",
		Args:      cobra.ExactArgs(1),
		ValidArgs: keys,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openKeyring()
			if err != nil {
				return err
			}
			return store.Delete(args[0])
		},
	}
	cmd.AddCommand(set, del)
	return cmd
}

func openKeyring() (*credential.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return credential.Open(cfg.Secrets.Service)
}

func readLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
