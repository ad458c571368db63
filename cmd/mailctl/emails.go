package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Skycomm/email-ai-manager/internal/app"
	"github.com/Skycomm/email-ai-manager/internal/model"
	"github.com/Skycomm/email-ai-manager/internal/repository"
	"github.com/Skycomm/email-ai-manager/internal/service"
)

func emailsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emails",
		Short: "List and inspect tracked emails",
	}
	cmd.AddCommand(emailsListCmd(), emailsShowCmd())
	return cmd
}

func emailsListCmd() *cobra.Command {
	var states []string
	var category, sender string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List emails, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := repository.EmailFilter{
				Category: model.Category(category),
				Sender:   sender,
				SortBy:   "received_at",
				Desc:     true,
				Limit:    limit,
				Offset:   offset,
			}
			for _, name := range states {
				s, err := model.ParseState(name)
				if err != nil {
					return err
				}
				f.States = append(f.States, s)
			}
			return withApp(cmd, app.StoreOnly, func(ctx context.Context, a *app.App) error {
				emails, total, err := a.Engine.ListEmails(ctx, f)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(map[string]any{"emails": emails, "total": total})
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSTATE\tPRI\tCATEGORY\tTOKEN\tFROM\tSUBJECT\tRECEIVED")
				for _, e := range emails {
					fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
						e.ID, e.State, e.Priority, e.Category, deref(e.ApprovalToken), e.Sender,
						clip(e.Subject, 50), e.ReceivedAt.Local().Format(time.DateTime))
				}
				fmt.Fprintf(w, "\n%d of %d\n", len(emails), total)
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringSliceVar(&states, "state", nil, "Only these states (repeatable)")
	cmd.Flags().StringVar(&category, "category", "", "Only this category")
	cmd.Flags().StringVar(&sender, "sender", "", "Only this sender address")
	cmd.Flags().IntVar(&limit, "limit", 50, "Page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "Page offset")
	return cmd
}

func emailsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one email with its drafts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, app.StoreOnly, func(ctx context.Context, a *app.App) error {
				d, err := a.Engine.GetEmail(ctx, id)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(d)
				}
				fmt.Printf("Email %d  [%s]\n", d.ID, d.State)
				fmt.Printf("From:     %s\n", d.Sender)
				fmt.Printf("Subject:  %s\n", d.Subject)
				fmt.Printf("Category: %s  Priority: %d  VIP: %t\n", d.Category, d.Priority, d.IsVIP)
				if d.ApprovalToken != nil {
					fmt.Printf("Token:    %s\n", *d.ApprovalToken)
				}
				if d.ErrorMessage != "" {
					fmt.Printf("Error:    %s\n", d.ErrorMessage)
				}
				if d.Summary != "" {
					fmt.Printf("\n%s\n", d.Summary)
				}
				for _, dv := range d.Drafts {
					fmt.Printf("\n--- draft v%d (%s) ---\n%s\n", dv.Version, dv.CreatedAt.Local().Format(time.DateTime), dv.Body)
				}
				return nil
			})
		},
	}
}

func auditCmd() *cobra.Command {
	var f model.AuditFilter
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if since > 0 {
				f.Since = time.Now().Add(-since)
			}
			return withApp(cmd, app.StoreOnly, func(ctx context.Context, a *app.App) error {
				entries, err := a.Engine.ListAudit(ctx, f)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(entries)
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tAGENT\tACTION\tEMAIL\tOK\tERROR")
				for _, e := range entries {
					email := "-"
					if e.EmailID != nil {
						email = strconv.FormatInt(*e.EmailID, 10)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n",
						e.Timestamp.Local().Format(time.DateTime), e.Agent, e.Action, email, e.Success, clip(e.Error, 60))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&f.Agent, "agent", "", "Only this agent")
	cmd.Flags().StringVar(&f.Action, "action", "", "Only this action")
	cmd.Flags().Int64Var(&f.EmailID, "email-id", 0, "Only entries for this email")
	cmd.Flags().DurationVar(&since, "since", 0, "Only entries newer than this (e.g. 24h)")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "Page size")
	return cmd
}

// commandCmd submits a chat command as if it arrived from the channel.
func commandCmd() *cobra.Command {
	var channel, user string

	cmd := &cobra.Command{
		Use:   "command <text>",
		Short: "Submit an approval command (approve, edit, spam, forward, ...)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, app.Full, func(ctx context.Context, a *app.App) error {
				if channel == "" {
					channel = a.Config.Notify.Channel
				}
				res, err := a.Engine.HandleReply(ctx, service.ReplyEvent{
					EventID:    uuid.NewString(),
					Channel:    channel,
					User:       user,
					Text:       strings.Join(args, " "),
					ReceivedAt: time.Now(),
				})
				if res != nil {
					if jsonOutput() {
						if perr := printJSON(res); perr != nil {
							return perr
						}
					} else {
						fmt.Println(res.Reply)
					}
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "Chat channel (defaults to notify.channel)")
	cmd.Flags().StringVar(&user, "user", os.Getenv("USER"), "User recorded in the audit log")
	return cmd
}

func retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Take an email out of error",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, app.Full, func(ctx context.Context, a *app.App) error {
				em, err := a.Engine.Retry(ctx, id)
				if err != nil {
					return err
				}
				fmt.Printf("Email %d is now %s\n", em.ID, em.State)
				return nil
			})
		},
	}
}

func pollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Ingest new mail from every configured mailbox once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, app.Full, func(ctx context.Context, a *app.App) error {
				for _, mb := range a.Mailboxes {
					n, err := a.Engine.IngestMailbox(ctx, mb)
					if err != nil {
						return fmt.Errorf("%s: %w", mb, err)
					}
					fmt.Printf("%s: %d new\n", mb, n)
				}
				return nil
			})
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func clip(s string, n int) string {
	r := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
