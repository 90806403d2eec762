package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"telebridge/internal/config"
	"telebridge/internal/domain"
	"telebridge/internal/feature/transfer"
	"telebridge/internal/scheduler"
)

// confirmOverwrite asks before an import replaces the current configuration.
// Overridable for tests.
var confirmOverwrite = func() (bool, error) {
	var ok bool
	err := huh.NewConfirm().
		Title("Overwrite current configuration? This cannot be undone.").
		Affirmative("Overwrite").
		Negative("Cancel").
		Value(&ok).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return ok, err
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Load and print the environment configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			if cfg.RefreshSchedule != "" {
				if err := scheduler.Validate(cfg.RefreshSchedule); err != nil {
					return fmt.Errorf("configuration error: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "configuration check: ok")
			fmt.Fprintln(out, config.FormatRedacted(cfg))
			return nil
		},
	})
	return cmd
}

func exportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the token, lock flag and groups to a JSON file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(commandContext(cmd), func(ctx context.Context, a *app) error {
				data, err := a.transfer.Export(ctx)
				if err != nil {
					return err
				}

				if output == "-" {
					_, err := cmd.OutOrStdout().Write(data)
					return err
				}
				if err := os.WriteFile(output, data, 0o600); err != nil {
					return fmt.Errorf("write export: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported configuration to %s\n", output)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", transfer.DefaultFileName, "destination file, - for stdout")
	return cmd
}

func importCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the current configuration with an exported file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read import: %w", err)
			}

			if !yes {
				ok, err := confirmOverwrite()
				if err != nil {
					return fmt.Errorf("confirm import: %w", err)
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "import cancelled")
					return nil
				}
			}

			return withApp(commandContext(cmd), func(ctx context.Context, a *app) error {
				result, err := a.transfer.Import(ctx, data)
				if err != nil {
					return err
				}
				printImport(cmd.OutOrStdout(), result)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the overwrite confirmation")
	return cmd
}

func printImport(out io.Writer, result transfer.Result) {
	fmt.Fprintf(out, "applied: %s\n", joinOrNone(result.Applied))
	if len(result.Skipped) > 0 {
		fmt.Fprintf(out, "skipped: %s\n", strings.Join(result.Skipped, ", "))
	}
	if result.ConnectErr != nil {
		fmt.Fprintf(out, "bot token stored but not verified: %v\n", result.ConnectErr)
	}
}

func groupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Manage tracked groups",
	}
	cmd.AddCommand(groupsListCmd(), groupsAddCmd(), groupsRefreshCmd(), groupsInviteCmd())
	return cmd
}

func groupsListCmd() *cobra.Command {
	var query string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked groups, most recently used first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(commandContext(cmd), func(_ context.Context, a *app) error {
				printGroups(cmd.OutOrStdout(), a.engine.OrderedView(query))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "filter by name or chat id")
	return cmd
}

func groupsAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <chat-id>",
		Short: "Look up a chat through the bot and start tracking it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(commandContext(cmd), func(ctx context.Context, a *app) error {
				if err := a.connect(ctx); err != nil {
					return err
				}
				added, err := a.engine.AddGroup(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s), %d members\n", added.Name, added.ID, added.MemberCount)
				return nil
			})
		},
	}
}

func groupsRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh member counts with the stored bot token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(commandContext(cmd), func(ctx context.Context, a *app) error {
				token := a.cfg.TelegramToken
				if token == "" {
					token = a.engine.Token()
				}
				report, err := a.engine.RefreshAll(ctx, token)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "refreshed %d of %d groups (%d failed)\n", report.Updated, report.Total, report.Failed)
				return nil
			})
		},
	}
}

func groupsInviteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invite <chat-id>",
		Short: "Create an invite link for a tracked group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(commandContext(cmd), func(ctx context.Context, a *app) error {
				inv, err := a.invites.Generate(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, inv.Link)
				fmt.Fprintln(out, inv.Description)
				return nil
			})
		},
	}
}

func printGroups(out io.Writer, groups []domain.Group) {
	if len(groups) == 0 {
		fmt.Fprintln(out, "no groups tracked")
		return
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tMEMBERS\tLAST USED")
	for _, g := range groups {
		lastUsed := "-"
		if g.LastInteraction != nil {
			lastUsed = time.UnixMilli(*g.LastInteraction).UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", g.ID, g.Name, g.MemberCount, lastUsed)
	}
	_ = tw.Flush()
}

func joinOrNone(values []string) string {
	if len(values) == 0 {
		return "none"
	}
	return strings.Join(values, ", ")
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
