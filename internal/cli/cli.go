package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"smoothcal/internal/config"
	"smoothcal/internal/logger"
	"smoothcal/internal/refresh"
	"smoothcal/internal/scraper"
	"smoothcal/internal/server"
	"smoothcal/internal/static"
	"smoothcal/internal/store"
)

const (
	ExitSuccess = 0
	ExitError   = 1
)

var (
	flagConfig  string
	flagVerbose bool

	flagCountry string
	flagSport   string
	flagLimit   int
	flagFormat  string

	flagOutputDir   string
	flagStaticLimit int
)

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smoothcal",
		Short: "Smoothcomp events as calendar feeds",
		Long: `Scrapes upcoming events from smoothcomp.com into a local cache and
serves them as iCalendar feeds and a JSON API.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagVerbose {
				logger.SetDefault(logger.New(logger.LevelDebug, os.Stderr))
			}
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to config file (default: XDG config dir)")
	cmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "Enable debug logging")

	cmd.AddCommand(newServeCmd(), newRefreshCmd(), newGenerateCmd(), newEventsCmd())
	return cmd
}

func loadConfig() (*config.Config, error) {
	path := flagConfig
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.Database, cfg.TTL())
	if err != nil {
		return nil, fmt.Errorf("opening event cache: %w", err)
	}
	return st, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and calendar feed server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			orch := refresh.New(scraper.New(), st, cfg.RateLimitDuration())

			bootRefresh(cmd.Context(), st, orch)

			sched := cron.New()
			if _, err := sched.AddFunc(cfg.RefreshCron, func() {
				orch.MaybeRefresh(context.Background())
			}); err != nil {
				return fmt.Errorf("invalid refresh schedule %q: %w", cfg.RefreshCron, err)
			}
			sched.Start()
			defer sched.Stop()

			srv := server.New(cfg, st, orch)
			logger.Info("Server listening", logger.Fields{
				"addr":     cfg.Listen,
				"database": cfg.Database,
			})
			return http.ListenAndServe(cfg.Listen, srv.Handler())
		},
	}
}

// bootRefresh populates the cache in the background at startup when it is
// stale or empty, so the first feed fetch has data. An empty cache with a
// fresh completion marker still triggers a cycle: every cached event may
// have been retired as past since the last one.
func bootRefresh(ctx context.Context, st *store.Store, orch *refresh.Orchestrator) {
	count, err := st.Count(ctx)
	if err == nil && count == 0 {
		go func() {
			if err := orch.RunCycle(context.Background()); err != nil {
				logger.Error("Startup refresh failed", nil, err)
			}
		}()
		return
	}
	orch.MaybeRefresh(ctx)
}

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Run one full scrape cycle and update the cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			orch := refresh.New(scraper.New(), st, cfg.RateLimitDuration())
			if err := orch.RunCycle(cmd.Context()); err != nil {
				return fmt.Errorf("refresh failed: %w", err)
			}

			count, err := st.Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Cache refreshed: %d upcoming events.\n", count)
			return nil
		},
	}
}

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Scrape events and write static calendar files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			outDir := flagOutputDir
			if outDir == "" {
				outDir = cfg.OutputDir
			}

			gen := static.New(scraper.New(), cfg.RateLimitDuration(), cfg.FeedTTLMinutes)
			gen.Limit = flagStaticLimit
			if err := gen.Generate(cmd.Context(), outDir); err != nil {
				return fmt.Errorf("generating static files: %w", err)
			}
			fmt.Printf("Static files written to %s/\n", outDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&flagOutputDir, "output", "", "Output directory (default from config)")
	cmd.Flags().IntVar(&flagStaticLimit, "limit", 0, "Limit number of events scraped (for testing)")
	return cmd
}

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List cached events",
		RunE: func(cmd *cobra.Command, args []string) error {
			format := OutputFormat(strings.ToLower(flagFormat))
			if format != FormatText && format != FormatJSON {
				return fmt.Errorf("invalid format: %s (must be 'text' or 'json')", flagFormat)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			events, err := st.Events(cmd.Context(), store.Query{
				Country: flagCountry,
				Sport:   flagSport,
				Limit:   flagLimit,
			})
			if err != nil {
				return fmt.Errorf("querying events: %w", err)
			}

			result := &OutputResult{
				Country: flagCountry,
				Sport:   flagSport,
				Count:   len(events),
				Events:  events,
			}
			return WriteOutput(os.Stdout, result, format, flagVerbose)
		},
	}
	cmd.Flags().StringVar(&flagCountry, "country", "", "Filter by country (substring match)")
	cmd.Flags().StringVar(&flagSport, "sport", "", "Filter by sport (substring match)")
	cmd.Flags().IntVar(&flagLimit, "limit", 0, "Maximum events to show")
	cmd.Flags().StringVar(&flagFormat, "format", "text", "Output format: text or json")
	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitError)
	}
}
