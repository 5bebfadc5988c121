package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/XpNow/PHX-Bot/internal/access"
	"github.com/XpNow/PHX-Bot/internal/config"
	"github.com/XpNow/PHX-Bot/internal/db"
	"github.com/XpNow/PHX-Bot/internal/db/sqlite"
	"github.com/XpNow/PHX-Bot/internal/platform"
	"github.com/XpNow/PHX-Bot/internal/reconcile"
	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"
)

func newMigrateCmd(load configLoader) *cobra.Command {
	var showVersion, list bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if list {
				return listMigrations(out)
			}

			cfg, logger, err := load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			driver, dsn := cfg.Database()
			if driver == config.DriverSQLite {
				if showVersion {
					fmt.Fprintln(out, "SQLite schema is applied on open and carries no version")
					return nil
				}
				s, err := sqlite.Open(ctx, dsn, logger)
				if err != nil {
					return err
				}
				defer s.Close()
				logger.Info().Str("path", dsn).Msg("migrations complete")
				return nil
			}

			dbCfg := db.DefaultConfig(dsn)
			dbCfg.MaxConns = 5
			dbCfg.MinConns = 1
			database, err := db.New(ctx, dbCfg, logger)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer database.Close()

			if showVersion {
				return printMigrationStatus(ctx, out, database)
			}

			logger.Info().Msg("running database migrations")
			if err := database.Migrate(ctx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			version, err := database.CurrentVersion(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("could not get current version")
				return nil
			}
			logger.Info().Int("version", version).Msg("migrations complete")
			return nil
		},
	}

	cmd.Flags().BoolVar(&showVersion, "version", false, "Show the current schema version and applied migrations")
	cmd.Flags().BoolVar(&list, "list", false, "List embedded migrations")
	cmd.MarkFlagsMutuallyExclusive("version", "list")
	return cmd
}

func listMigrations(out io.Writer) error {
	migrations, err := db.GetMigrations()
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	if len(migrations) == 0 {
		fmt.Fprintln(out, "No migrations found")
		return nil
	}
	fmt.Fprintln(out, "Available migrations:")
	for _, m := range migrations {
		fmt.Fprintf(out, "  %03d: %s\n", m.Version, m.Name)
	}
	return nil
}

func printMigrationStatus(ctx context.Context, out io.Writer, database *db.DB) error {
	version, err := database.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	statuses, err := database.MigrationStatuses(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Current schema version: %d\n", version)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, st := range statuses {
		applied := "pending"
		if st.AppliedAt != nil {
			applied = st.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "  %03d\t%s\t%s\n", st.Version, st.Name, applied)
	}
	return w.Flush()
}

func newSeedCmd(load configLoader) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load settings, organizations and rate limits from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := config.LoadSeed(file)
			if err != nil {
				return err
			}
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			database, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer database.Close()

			res, err := seed.Apply(cmd.Context(), database)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d settings, %d organizations, %d ranks, %d rate limits\n",
				res.Settings, res.Organizations, res.Ranks, res.RateLimits)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Seed file (required)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newSweepCmd(load configLoader) *cobra.Command {
	var skipDrift bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a single reconcile tick and exit",
		Long: `Run one reconcile tick: expire due cooldowns and warnings, then
correct role drift unless --skip-drift is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(true); err != nil {
				return err
			}
			ctx := cmd.Context()

			database, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer database.Close()

			session, err := discordgo.New("Bot " + cfg.DiscordToken)
			if err != nil {
				return fmt.Errorf("create discord session: %w", err)
			}

			var opts []reconcile.Option
			redisClient, err := openRedis(ctx, cfg)
			if err != nil {
				return err
			}
			if redisClient != nil {
				defer redisClient.Close()
				opts = append(opts, reconcile.WithLock(reconcile.NewRedisLock(redisClient, "")))
			}

			schedCfg := reconcile.DefaultConfig(cfg.GuildID)
			schedCfg.LockTTL = cfg.LockTTL
			scheduler := reconcile.New(database, platform.NewDiscord(session, logger), schedCfg, logger, opts...)

			report, err := scheduler.Tick(ctx, reconcile.TickOptions{ForceDrift: !skipDrift})
			if errors.Is(err, reconcile.ErrLockHeld) {
				fmt.Fprintln(cmd.OutOrStdout(), "Another instance is reconciling; nothing done")
				return nil
			}
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipDrift, "skip-drift", false, "Only expire cooldowns and warnings")
	return cmd
}

func printReport(out io.Writer, r *reconcile.TickReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Cooldowns expired:\t%d\n", r.CooldownsExpired)
	fmt.Fprintf(w, "Cooldowns retained:\t%d\n", r.CooldownsRetained)
	fmt.Fprintf(w, "Warnings expired:\t%d\n", r.WarningsExpired)
	fmt.Fprintf(w, "Warnings failed:\t%d\n", r.WarningsFailed)
	fmt.Fprintf(w, "Message edits failed:\t%d\n", r.MessageEditsFailed)
	if r.DriftRan {
		fmt.Fprintf(w, "Roles restored:\t%d\n", r.RolesRestored)
		fmt.Fprintf(w, "Cooldowns captured:\t%d\n", r.CooldownsCaptured)
		fmt.Fprintf(w, "Drift conflicts:\t%d\n", r.DriftConflicts)
		fmt.Fprintf(w, "Drift failures:\t%d\n", r.DriftFailures)
	}
	fmt.Fprintf(w, "Duration:\t%s\n", r.Duration.Round(time.Millisecond))
	_ = w.Flush()
}

func newResolveCmd(load configLoader) *cobra.Command {
	var (
		userID  string
		roleIDs []string
		ownerID string
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Show the access context a user resolves to",
		Long: `Resolve a user's access context against the stored settings and
organizations. Without --roles the user's roles and the guild owner are
fetched from Discord.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			fetch := !cmd.Flags().Changed("roles")
			if err := cfg.Validate(fetch); err != nil {
				return err
			}

			database, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer database.Close()

			if fetch {
				session, err := discordgo.New("Bot " + cfg.DiscordToken)
				if err != nil {
					return fmt.Errorf("create discord session: %w", err)
				}
				discord := platform.NewDiscord(session, logger)
				member, err := discord.Member(ctx, cfg.GuildID, userID)
				if err != nil {
					return err
				}
				roleIDs = member.RoleIDs
				if ownerID == "" {
					guild, err := discord.Guild(ctx, cfg.GuildID)
					if err != nil {
						return err
					}
					ownerID = guild.OwnerID
				}
			}

			ac, err := access.NewResolver(database, logger).Resolve(ctx, access.Caller{
				UserID:       userID,
				RoleIDs:      roleIDs,
				GuildOwnerID: ownerID,
			})
			if err != nil {
				return err
			}
			printAccess(cmd.OutOrStdout(), userID, ac)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User id (required)")
	cmd.Flags().StringSliceVar(&roleIDs, "roles", nil, "Role ids to resolve with instead of fetching them")
	cmd.Flags().StringVar(&ownerID, "owner", "", "Guild owner id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func printAccess(out io.Writer, userID string, ac access.Context) {
	orDash := func(s string) string {
		if s == "" {
			return "-"
		}
		return s
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "User:\t%s\n", userID)
	fmt.Fprintf(w, "Scope:\t%s\n", ac.ScopeRole)
	fmt.Fprintf(w, "Admin:\t%t\n", ac.IsAdmin)
	fmt.Fprintf(w, "Supervisor:\t%t\n", ac.IsSupervisor)
	fmt.Fprintf(w, "Manage warnings:\t%t\n", ac.CanManageWarnings)
	fmt.Fprintf(w, "Organization:\t%s\n", orDash(ac.OrganizationID()))
	fmt.Fprintf(w, "Rank:\t%s\n", orDash(ac.RankKey))
	fmt.Fprintf(w, "Conflicts:\t%s\n", orDash(strings.Join(ac.ConflictingOrganizationIDs, ", ")))
	_ = w.Flush()
}
