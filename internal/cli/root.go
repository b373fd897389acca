// Package cli wires the recordbuilder command tree. Commands construct their
// collaborators from the loaded configuration and hand them to the session
// logger client or the build orchestrator.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/usnistgov/NexusLIMS-sub001/internal/buildinfo"
	"github.com/usnistgov/NexusLIMS-sub001/internal/config"
	"github.com/usnistgov/NexusLIMS-sub001/internal/extract"
	"github.com/usnistgov/NexusLIMS-sub001/internal/logger"
	"github.com/usnistgov/NexusLIMS-sub001/internal/orchestrator"
	"github.com/usnistgov/NexusLIMS-sub001/internal/record"
	"github.com/usnistgov/NexusLIMS-sub001/internal/registry"
	"github.com/usnistgov/NexusLIMS-sub001/internal/reservation"
	"github.com/usnistgov/NexusLIMS-sub001/internal/store"
	"github.com/usnistgov/NexusLIMS-sub001/internal/timespan"
	"github.com/usnistgov/NexusLIMS-sub001/internal/uploader"
)

const progressInterval = 100 * time.Millisecond

type app struct {
	configPath string
	verbose    bool

	cfg    config.Config
	logger *slog.Logger
}

func NewRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "recordbuilder",
		Short: "Track instrument sessions and build experiment records from their data files",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			if a.verbose {
				cfg.Verbose = true
			}
			a.cfg = cfg

			level := slog.LevelInfo
			if cfg.Verbose {
				level = slog.LevelDebug
			}
			a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			return nil
		},
	}

	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to the config file (default: ./recordbuilder.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.AddCommand(
		newInitCmd(a),
		newStartCmd(a),
		newEndCmd(a),
		newProcessCmd(a),
		newSessionsCmd(a),
		newVersionCmd(),
	)

	return rootCmd
}

func (a *app) openStore() (*store.SQLStore, error) {
	s, err := store.Open(a.cfg.StoreDSN)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return s, nil
}

func defaultUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	if user := os.Getenv("USERNAME"); user != "" {
		return user
	}
	return "unknown"
}

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the session store schema and verify the instrument registry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := a.openStore(); err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "Session store ready at %s", a.cfg.StoreDSN)

			instruments, err := registry.Load(a.cfg.RegistryPath)
			if err != nil {
				printWarn(cmd.OutOrStdout(), "Instrument registry not usable: %v", err)
				printHint(cmd.OutOrStdout(), "Create %s before running `recordbuilder process`", a.cfg.RegistryPath)
				return nil
			}
			printOK(cmd.OutOrStdout(), "Instrument registry loaded: %d instrument(s)", len(instruments.All()))
			return nil
		},
	}
}

// stageReporter prints each worker stage once, so slow store operations over
// a network mount show visible progress without flooding the terminal.
func stageReporter(cmd *cobra.Command) func(logger.Progress) {
	var last logger.Stage
	return func(p logger.Progress) {
		if p.Stage == "" || p.Stage == last {
			return
		}
		last = p.Stage
		fmt.Fprintf(cmd.OutOrStdout(), "... %s\n", p.Stage)
	}
}

func newStartCmd(a *app) *cobra.Command {
	var (
		instrument string
		user       string
		abandon    bool
	)

	cmd := &cobra.Command{
		Use:     "start",
		Aliases: []string{"s"},
		Short:   "Log the start of an instrument session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			client := logger.NewClient(s, instrument, user, a.logger)
			ctx := cmd.Context()

			if abandon {
				id, err := client.AbandonPrior(ctx)
				if err != nil && !errors.Is(err, store.ErrNoUnresolvedStart) {
					return fmt.Errorf("abandon prior session: %w", err)
				}
				if err == nil {
					printWarn(cmd.OutOrStdout(), "Abandoned unresolved session %s; no record will be built for it", id)
				}
			}

			final := logger.Wait(client.StartSession(ctx), progressInterval, stageReporter(cmd))
			if final.Err != nil {
				var unresolved *logger.UnresolvedError
				if errors.As(final.Err, &unresolved) {
					printError(cmd.OutOrStdout(), "%v", unresolved)
					printHint(cmd.OutOrStdout(), "Continue it and run `recordbuilder end` when finished, or rerun with `--abandon` to discard it")
					return errors.New("an unresolved session already exists for this instrument")
				}
				return fmt.Errorf("start session: %w", final.Err)
			}

			printOK(cmd.OutOrStdout(), "Started session %s on %s for %s", final.SessionID, instrument, user)
			return nil
		},
	}

	cmd.Flags().StringVarP(&instrument, "instrument", "i", "", "Instrument identifier (required)")
	cmd.Flags().StringVarP(&user, "user", "u", defaultUser(), "User the session is logged for")
	cmd.Flags().BoolVar(&abandon, "abandon", false, "Discard an unresolved prior session before starting")
	_ = cmd.MarkFlagRequired("instrument")
	return cmd
}

func newEndCmd(a *app) *cobra.Command {
	var (
		instrument string
		user       string
	)

	cmd := &cobra.Command{
		Use:     "end",
		Aliases: []string{"e"},
		Short:   "Log the end of the instrument's open session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			client := logger.NewClient(s, instrument, user, a.logger)

			final := logger.Wait(client.EndSession(cmd.Context()), progressInterval, stageReporter(cmd))
			if final.Err != nil {
				if errors.Is(final.Err, store.ErrNoUnresolvedStart) {
					return fmt.Errorf("no open session on %s. Start one with `recordbuilder start -i %s`", instrument, instrument)
				}
				return fmt.Errorf("end session: %w", final.Err)
			}

			printOK(cmd.OutOrStdout(), "Ended session %s; it is queued for record building", final.SessionID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&instrument, "instrument", "i", "", "Instrument identifier (required)")
	cmd.Flags().StringVarP(&user, "user", "u", defaultUser(), "User the session is logged for")
	_ = cmd.MarkFlagRequired("instrument")
	return cmd
}

// placeholderMatcher stands in when no calendar harvester is configured:
// every session builds with the no-reservation descriptor.
type placeholderMatcher struct{}

func (placeholderMatcher) Match(context.Context, string, timespan.Interval) (reservation.Descriptor, error) {
	return reservation.NoReservation(), nil
}

func newProcessCmd(a *app) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:     "process",
		Aliases: []string{"p"},
		Short:   "Build experiment records for every session queued as TO_BE_BUILT",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			instruments, err := registry.Load(a.cfg.RegistryPath)
			if err != nil {
				return fmt.Errorf("load instrument registry: %w", err)
			}
			strategy, err := extract.ParseStrategy(a.cfg.FileStrategy)
			if err != nil {
				return fmt.Errorf("file strategy: %w", err)
			}

			var matcher orchestrator.Matcher = placeholderMatcher{}
			if a.cfg.HarvesterURL != "" {
				matcher = reservation.NewMatcher(
					reservation.NewHTTPHarvester(a.cfg.HarvesterURL, a.cfg.HTTPTimeout),
					a.cfg.MatchMargin,
				)
			}

			var up orchestrator.Uploader
			if a.cfg.UploadURL != "" {
				up = uploader.New(a.cfg.UploadURL, a.cfg.HTTPTimeout)
			}

			o := orchestrator.New(
				s,
				instruments,
				orchestrator.DefaultFinderFactory,
				extract.NewRegistry(extract.NewSidecarExtractor()),
				matcher,
				record.NewWriter(a.cfg.SourceRoot, a.cfg.OutputRoot),
				up,
				a.logger,
			)

			outcomes, err := o.Sweep(cmd.Context(), orchestrator.Options{
				DryRun:         dryRun,
				Strategy:       strategy,
				IgnorePatterns: a.cfg.IgnorePatterns,
			})
			if err != nil {
				return fmt.Errorf("process sessions: %w", err)
			}

			if len(outcomes) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions to build")
				return nil
			}

			printOutcomes(cmd.OutOrStdout(), outcomes, dryRun)

			failed := 0
			for _, outcome := range outcomes {
				if outcome.Err != nil {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d session(s) failed to build", failed, len(outcomes))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Discover and segment files only; write nothing")
	return cmd
}

func newSessionsCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent session log events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			events, err := s.ListEvents(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			if len(events) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "The session log is empty")
				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), "SESSION\tEVENT\tINSTRUMENT\tTIMESTAMP\tUSER\tSTATUS")
			for _, event := range events {
				status := string(event.RecordStatus)
				if event.EventType != store.EventStart {
					status = "-"
				}
				fmt.Fprintf(
					cmd.OutOrStdout(),
					"%s\t%s\t%s\t%s\t%s\t%s\n",
					event.SessionID,
					event.EventType,
					event.Instrument,
					event.Timestamp.UTC().Format(time.RFC3339),
					event.User,
					status,
				)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of most recent events to show")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Aliases: []string{"v"},
		Short:   "Print recordbuilder build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "recordbuilder %s\n", buildinfo.String())
		},
	}
}

func printOutcomes(out io.Writer, outcomes []orchestrator.Outcome, dryRun bool) {
	if dryRun {
		fmt.Fprintln(out, "Dry run: no statuses changed, no records written")
	}
	fmt.Fprintln(out, "SESSION\tINSTRUMENT\tSTATUS\tFILES\tACTIVITIES\tRECORD")
	for _, outcome := range outcomes {
		recordPath := outcome.RecordPath
		if recordPath == "" {
			recordPath = "-"
		}
		fmt.Fprintf(
			out,
			"%s\t%s\t%s\t%d\t%d\t%s\n",
			outcome.SessionID,
			outcome.Instrument,
			outcome.Status,
			outcome.FileCount,
			outcome.Activities,
			recordPath,
		)
		if outcome.Err != nil {
			fmt.Fprintf(out, "  error: %v\n", outcome.Err)
		}
	}
}
