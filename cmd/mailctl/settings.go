package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Skycomm/email-ai-manager/internal/app"
	"github.com/Skycomm/email-ai-manager/internal/model"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage spam rules",
	}
	cmd.AddCommand(rulesListCmd(), rulesAddCmd(), rulesDeleteCmd())
	return cmd
}

func rulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List spam rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, app.StoreOnly, func(ctx context.Context, a *app.App) error {
				rules, err := a.Engine.ListSpamRules(ctx)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(rules)
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTYPE\tPATTERN\tACTION\tCONF\tHITS\tFP\tACTIVE")
				for _, r := range rules {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%t\n",
						r.ID, r.RuleType, r.Pattern, r.Action, r.Confidence, r.HitCount, r.FalsePositives, r.Active)
				}
				return w.Flush()
			})
		},
	}
}

func rulesAddCmd() *cobra.Command {
	var ruleType, action string
	var confidence int

	cmd := &cobra.Command{
		Use:   "add <pattern>",
		Short: "Add a spam rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rule := &model.SpamRule{
				RuleType:   model.RuleType(ruleType),
				Pattern:    args[0],
				Action:     model.RuleAction(action),
				Confidence: confidence,
			}
			return withApp(cmd, app.StoreOnly, func(ctx context.Context, a *app.App) error {
				if err := a.Engine.CreateSpamRule(ctx, rule); err != nil {
					return err
				}
				fmt.Printf("Created rule %d\n", rule.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&ruleType, "type", string(model.RuleDomain), "sender, domain, subject_keyword or pattern")
	cmd.Flags().StringVar(&action, "action", string(model.RuleActionDigest), "digest, archive or delete")
	cmd.Flags().IntVar(&confidence, "confidence", 100, "Rule confidence 0..100")
	return cmd
}

func rulesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a spam rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, app.StoreOnly, func(ctx context.Context, a *app.App) error {
				return a.Engine.DeleteSpamRule(ctx, id)
			})
		},
	}
}

// sendersCmd manages the VIP and muted lists.
func sendersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "senders",
		Short: "Manage VIP and muted senders",
	}
	cmd.AddCommand(sendersListCmd(), sendersAddCmd(), sendersDeleteCmd())
	return cmd
}

func sendersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "list <vip|muted>",
		Short:     "List VIP or muted senders",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"vip", "muted"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, app.StoreOnly, func(ctx context.Context, a *app.App) error {
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tPATTERN\tNOTE")
				if args[0] == "vip" {
					vips, err := a.Engine.ListVIPSenders(ctx)
					if err != nil {
						return err
					}
					if jsonOutput() {
						return printJSON(vips)
					}
					for _, v := range vips {
						fmt.Fprintf(w, "%d\t%s\t%s\n", v.ID, v.Pattern, v.Note)
					}
				} else {
					muted, err := a.Engine.ListMutedSenders(ctx)
					if err != nil {
						return err
					}
					if jsonOutput() {
						return printJSON(muted)
					}
					for _, m := range muted {
						fmt.Fprintf(w, "%d\t%s\t%s\n", m.ID, m.Pattern, m.Reason)
					}
				}
				return w.Flush()
			})
		},
	}
}

func sendersAddCmd() *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:       "add <vip|muted> <address-or-domain>",
		Short:     "Add a VIP or muted sender",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"vip", "muted"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, app.StoreOnly, func(ctx context.Context, a *app.App) error {
				switch args[0] {
				case "vip":
					v := &model.VipSender{Pattern: args[1], Note: note}
					if err := a.Engine.AddVIPSender(ctx, v); err != nil {
						return err
					}
					fmt.Printf("Added VIP %d\n", v.ID)
				case "muted":
					m := &model.MutedSender{Pattern: args[1], Reason: note}
					if err := a.Engine.AddMutedSender(ctx, m); err != nil {
						return err
					}
					fmt.Printf("Muted %d\n", m.ID)
				default:
					return fmt.Errorf("unknown list %q: want vip or muted", args[0])
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "Note or reason stored with the entry")
	return cmd
}

func sendersDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <vip|muted> <id>",
		Short: "Remove a VIP or muted sender",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd, app.StoreOnly, func(ctx context.Context, a *app.App) error {
				switch args[0] {
				case "vip":
					return a.Engine.DeleteVIPSender(ctx, id)
				case "muted":
					return a.Engine.DeleteMutedSender(ctx, id)
				}
				return fmt.Errorf("unknown list %q: want vip or muted", args[0])
			})
		},
	}
}
