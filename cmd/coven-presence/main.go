// ABOUTME: Entry point for coven-presence, the Matrix status rotation bot
// ABOUTME: Subcommands serve the bot, probe its health endpoint, or print stored history

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/2389/coven-presence/internal/bot"
	"github.com/2389/coven-presence/internal/config"
	"github.com/2389/coven-presence/internal/presence"
	"github.com/2389/coven-presence/internal/store"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const banner = `
  ___ _____   _____ _ __        _ __  _ __ ___  ___  ___ _ __   ___ ___
 / __/ _ \ \ / / _ \ '_ \ _____| '_ \| '__/ _ \/ __|/ _ \ '_ \ / __/ _ \
| (_| (_) \ V /  __/ | | |_____| |_) | | |  __/\__ \  __/ | | | (_|  __/
 \___\___/ \_/ \___|_| |_|     | .__/|_|  \___||___/\___|_| |_|\___\___|
                               |_|
`

func usage() {
	fmt.Println("Usage: coven-presence [command] [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve     Run the presence bot (default)")
	fmt.Println("  health    Check the bot's readiness endpoint")
	fmt.Println("  status    Show recent connection events and status updates")
	fmt.Println()
	fmt.Println("Run 'coven-presence <command> --help' for command flags.")
}

func main() {
	// A missing .env is normal in production.
	_ = godotenv.Load()

	command, args := "serve", os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		command, args = args[0], args[1:]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch command {
	case "serve":
		err = runServe(ctx, args)
	case "health":
		err = runHealth(ctx, args)
	case "status":
		err = runStatus(ctx, args)
	case "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		usage()
		os.Exit(1)
	}

	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig parses the shared --config flag plus any extra flags the
// command registers, then loads the configuration.
func loadConfig(name string, args []string, extra func(*pflag.FlagSet)) (*config.Config, string, error) {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	configFlag := flags.StringP("config", "c", "", "path to a YAML or TOML config file (default: $"+config.EnvConfigPath+" or ./config.yaml)")
	if extra != nil {
		extra(flags)
	}
	if err := flags.Parse(args); err != nil {
		return nil, "", err
	}

	configPath := config.Resolve(*configFlag)
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

func runServe(ctx context.Context, args []string) error {
	cfg, configPath, err := loadConfig("serve", args, nil)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	if configPath == "" {
		fmt.Println("Config:     defaults + environment")
	} else {
		fmt.Printf("Config:     %s\n", configPath)
	}
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("Account:    %s\n", cfg.Matrix.UserID)
	green.Print("    ▶ ")
	fmt.Printf("Rotation:   %d messages, %d modes every %s\n", len(cfg.Presence.Messages), len(cfg.Presence.Modes), cfg.Presence.Interval)
	green.Print("    ▶ ")
	fmt.Printf("Health:     %s\n", cfg.Addr())
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale:  ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.Database.Path != "" {
		green.Print("    ▶ ")
		fmt.Printf("Database:   %s\n", cfg.Database.Path)
	}
	fmt.Println()

	logger.Info("starting coven-presence",
		"config", configPath,
		"homeserver", cfg.Matrix.Homeserver,
		"user_id", cfg.Matrix.UserID,
		"health_addr", cfg.Addr(),
	)

	b, err := bot.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating bot: %w", err)
	}

	return b.Run(ctx)
}

func runHealth(ctx context.Context, args []string) error {
	var addr string
	flags := pflag.NewFlagSet("health", pflag.ContinueOnError)
	flags.StringVar(&addr, "addr", "", "health server address (default: localhost and the configured port)")
	configFlag := flags.StringP("config", "c", "", "path to a YAML or TOML config file")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if addr == "" {
		cfg, err := config.Load(config.Resolve(*configFlag))
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		addr = fmt.Sprintf("localhost:%d", cfg.Server.Port)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://%s/health/ready", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, body)
	}

	fmt.Println("healthy")
	return nil
}

func runStatus(ctx context.Context, args []string) error {
	var limit int
	cfg, _, err := loadConfig("status", args, func(flags *pflag.FlagSet) {
		flags.IntVarP(&limit, "limit", "n", 10, "number of rows to show per table")
	})
	if err != nil {
		return err
	}
	if cfg.Database.Path == "" {
		return errors.New("no database configured: set database.path or COVEN_PRESENCE_DB")
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path, setupLogger(config.LoggingConfig{Level: "error"}, io.Discard))
	if err != nil {
		return err
	}
	defer s.Close()

	return printStatus(ctx, os.Stdout, s, limit)
}

func printStatus(ctx context.Context, w io.Writer, s *store.SQLiteStore, limit int) error {
	bold := color.New(color.Bold)
	gray := color.New(color.FgHiBlack)

	state, err := s.LoadRotation(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		bold.Fprintln(w, "Rotation: not started")
	case err != nil:
		return fmt.Errorf("loading rotation state: %w", err)
	default:
		bold.Fprintf(w, "Rotation: message %d, mode %d\n", state.MessageIndex, state.ModeIndex)
	}
	fmt.Fprintln(w)

	events, err := s.ListConnectionEvents(ctx, limit)
	if err != nil {
		return err
	}
	bold.Fprintln(w, "Connection events")
	if len(events) == 0 {
		gray.Fprintln(w, "  (none)")
	}
	for _, e := range events {
		gray.Fprintf(w, "  %s ", e.CreatedAt.Local().Format(time.DateTime))
		fmt.Fprintf(w, "%-13s %s → %s\n", e.Event, e.From, e.To)
	}
	fmt.Fprintln(w)

	history, err := s.ListPresenceHistory(ctx, limit)
	if err != nil {
		return err
	}
	bold.Fprintln(w, "Status updates")
	if len(history) == 0 {
		gray.Fprintln(w, "  (none)")
	}
	for _, h := range history {
		gray.Fprintf(w, "  %s ", h.CreatedAt.Local().Format(time.DateTime))
		fmt.Fprintf(w, "%s %-9s %s\n", outcomeColor(h.Outcome), h.Mode, h.Message)
	}
	return nil
}

func outcomeColor(outcome string) string {
	switch presence.Outcome(outcome) {
	case presence.OutcomeApplied:
		return color.GreenString("%-12s", outcome)
	case presence.OutcomeReset:
		return color.YellowString("%-12s", outcome)
	default:
		return color.RedString("%-12s", outcome)
	}
}
