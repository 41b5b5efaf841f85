package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cryptopulse/cryptobot/internal/config"
	"github.com/cryptopulse/cryptobot/internal/oracle"
	"github.com/cryptopulse/cryptobot/internal/pipeline"
	"github.com/cryptopulse/cryptobot/internal/ratelimit"
	"github.com/cryptopulse/cryptobot/internal/scheduler"
	"github.com/cryptopulse/cryptobot/internal/server"
	"github.com/cryptopulse/cryptobot/internal/store"
	"github.com/cryptopulse/cryptobot/internal/xapi"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "cryptobot",
	Short:   "Crypto reply bot",
	Long:    "cryptobot polls a social platform for posts about a topic, scores their relevance, and generates (optionally posts) replies.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(onceCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(recentCmd)
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("cryptobot", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/cryptobot/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to set the topic, credentials and polling interval.")
		return nil
	},
}

// --- run / once commands ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bot: one cycle now, then every interval until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		pipe, err := buildPipeline(st)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sched := scheduler.New(cfg.Interval(), func() {
			pipe.Run(ctx)
		})
		if err := sched.Run(ctx); err != nil {
			log.Printf("Fatal scheduler error: %v", err)
			return err
		}
		log.Println("Bot stopped")
		return nil
	},
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single processing cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		pipe, err := buildPipeline(st)
		if err != nil {
			return err
		}

		r := pipe.Run(context.Background())
		if r.Aborted {
			return fmt.Errorf("cycle aborted: search unavailable")
		}

		fmt.Println("Cycle complete:")
		fmt.Printf("  Found:      %d\n", r.Found)
		fmt.Printf("  Sampled:    %d\n", r.Sampled)
		fmt.Printf("  Responded:  %d\n", r.Responded)
		fmt.Printf("  Generated:  %d\n", r.Generated)
		fmt.Printf("  Ignored:    %d\n", r.Ignored)
		fmt.Printf("  Skipped:    %d\n", r.Skipped)
		fmt.Printf("  Failed:     %d\n", r.Failed)
		fmt.Printf("  Errors:     %d\n", r.Errors)
		return nil
	},
}

// --- status command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store statistics and rate-limit status",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}

		stats := st.Stats()
		fmt.Printf("Store: %s\n\n", st.Path())
		fmt.Println("Stats:")
		fmt.Printf("  Total processed: %d\n", stats.TotalProcessed)
		fmt.Printf("  Total responded: %d\n", stats.TotalResponded)

		if computed := st.ComputeStats(); computed != stats {
			fmt.Printf("\nWarning: counters drift from records (computed %d/%d). Run 'cryptobot repair'.\n",
				computed.TotalProcessed, computed.TotalResponded)
		}

		rl := st.RateLimitInfo()
		fmt.Println("\nRate limits:")
		if rl.LastEncounter == nil {
			fmt.Println("  None encountered")
		} else {
			fmt.Printf("  Last encounter: %s\n", rl.LastEncounter.Format(time.RFC3339))
			fmt.Printf("  Last wait: %ds\n", rl.WaitSeconds)
			fmt.Printf("  Events recorded: %d\n", len(rl.History))
		}
		return nil
	},
}

// --- recent command ---

var recentLimit int

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show the most recently processed posts",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}

		items := st.Recent(recentLimit)
		if len(items) == 0 {
			fmt.Println("Nothing processed yet.")
			return nil
		}

		for _, item := range items {
			marker := " "
			if item.Responded {
				marker = "*"
			}
			fmt.Printf("%s %s  @%s  %s\n", marker, item.ProcessedAt.Format("2006-01-02 15:04"), item.Author, item.ID)
			fmt.Printf("    %s\n", item.TweetText)
			if item.ResponseText != nil {
				fmt.Printf("    -> %s\n", *item.ResponseText)
			}
			if item.Sentiment != nil {
				fmt.Printf("    sentiment: %s (%.2f)\n", item.Sentiment.Label, item.Sentiment.Score)
			}
		}
		return nil
	},
}

func init() {
	recentCmd.Flags().IntVarP(&recentLimit, "limit", "n", 10, "Number of posts to show")
}

// --- repair command ---

var repairCheck bool

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Recompute stats counters from stored records",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}

		recorded := st.Stats()
		computed := st.ComputeStats()
		fmt.Println("Current stats:")
		fmt.Printf("  Total processed: %d\n", recorded.TotalProcessed)
		fmt.Printf("  Total responded: %d\n", recorded.TotalResponded)
		fmt.Println("Computed from records:")
		fmt.Printf("  Total processed: %d\n", computed.TotalProcessed)
		fmt.Printf("  Total responded: %d\n", computed.TotalResponded)

		if recorded == computed {
			fmt.Println("\nCounters are consistent.")
			return nil
		}
		if repairCheck {
			return fmt.Errorf("counters drift from records")
		}

		if _, err := st.Repair(); err != nil {
			return fmt.Errorf("repairing stats: %w", err)
		}
		fmt.Println("\nStats updated.")
		return nil
	},
}

func init() {
	repairCmd.Flags().BoolVar(&repairCheck, "check", false, "Report drift without writing")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		fmt.Printf("Starting dashboard at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(st, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run the dashboard on (default from config)")
}

func openStore() (*store.Store, error) {
	return store.Open(cfg.StorePath())
}

func buildPipeline(st *store.Store) (*pipeline.Pipeline, error) {
	src := xapi.New(cfg.Source.BaseURL, cfg.Source.BearerTokenEnv, cfg.Source.WriteTokenEnv)
	if !src.IsConfigured() {
		return nil, fmt.Errorf("source API bearer token not set (%s)", cfg.Source.BearerTokenEnv)
	}
	if cfg.Processing.Live && !src.CanWrite() {
		return nil, fmt.Errorf("live mode requires a write token (%s)", cfg.Source.WriteTokenEnv)
	}

	orc := oracle.New(cfg.Oracle.BaseURL, cfg.Oracle.Model, cfg.Oracle.APIKeyEnv,
		cfg.Oracle.MaxTokens, cfg.Oracle.MaxPostLength)
	if !orc.IsConfigured() {
		return nil, fmt.Errorf("oracle API key not set (%s)", cfg.Oracle.APIKeyEnv)
	}

	retrier := ratelimit.New(st, cfg.Limits.MaxRetries, cfg.Limits.DefaultWaitSeconds)
	return pipeline.New(cfg, pipeline.Deps{
		Source: src,
		Oracle: orc,
		Store:  st,
		Caller: retrier,
	}), nil
}
