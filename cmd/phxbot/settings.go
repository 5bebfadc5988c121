package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/XpNow/PHX-Bot/internal/models"
	"github.com/XpNow/PHX-Bot/internal/settings"
	"github.com/spf13/cobra"
)

// cliActor is recorded as the actor of changes made from the command line.
const cliActor = "cli"

func newSettingsCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and change stored bot settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every known setting and its stored value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			database, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer database.Close()

			raw, err := database.GetAllSettings(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, key := range settings.Keys() {
				value, ok := raw[string(key)]
				if !ok {
					value = "-"
				}
				fmt.Fprintf(w, "%s\t%s\n", key, value)
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get KEY",
		Short: "Print a stored setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			database, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer database.Close()

			value, ok, err := database.GetSetting(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("setting %s is not set", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Validate and store a setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			database, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer database.Close()

			key, value := settings.Key(args[0]), args[1]
			previous, _, err := database.GetSetting(ctx, string(key))
			if err != nil {
				return err
			}
			if err := settings.Set(ctx, database, key, value); err != nil {
				return err
			}
			entry := models.NewAuditLog(models.AuditActionSettingsUpdate, cliActor).
				WithDetails(map[string]any{"key": key, "from": previous, "to": value})
			if err := database.CreateAuditLog(ctx, entry); err != nil {
				logger.Warn().Err(err).Str("key", string(key)).Msg("failed to write audit log")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, value)
			return nil
		},
	})

	return cmd
}

func newAuditCmd(load configLoader) *cobra.Command {
	var (
		userID string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent audit entries concerning a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			database, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer database.Close()

			logs, err := database.ListAuditLogsByTarget(cmd.Context(), userID, limit)
			if err != nil {
				return err
			}
			printAuditLogs(cmd.OutOrStdout(), logs)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "Target user id (required)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries to show")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func printAuditLogs(out io.Writer, logs []*models.AuditLog) {
	if len(logs) == 0 {
		fmt.Fprintln(out, "No audit entries")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, l := range logs {
		org := l.OrganizationID
		if org == "" {
			org = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			l.CreatedAt.UTC().Format(time.RFC3339), l.Action, l.ActorID, org, string(l.Details))
	}
	_ = w.Flush()
}
