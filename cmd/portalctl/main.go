// Command portalctl drives a portal session from the terminal: log in, call
// the API with automatic token refresh, and log out. The refresh credential
// is kept in a cookie file and the profile in Redis, so the session survives
// between invocations.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/k1s0-platform/system-server-go-print-portal/internal/config"
	"github.com/k1s0-platform/system-server-go-print-portal/internal/middleware"
	"github.com/k1s0-platform/system-server-go-print-portal/internal/portal"
	"github.com/k1s0-platform/system-server-go-print-portal/internal/session"
)

const usage = `usage: portalctl [flags] <command> [args]

commands:
  login <username>   log in; the password is read from PORTAL_PASSWORD
  whoami             restore the session and print the current user
  get <path>         GET an API path and print the JSON response
  logout             end the session
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "portalctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("portalctl", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage); fs.PrintDefaults() }
	configPath := fs.String("config", envOr("CONFIG_PATH", "config/config.yaml"), "config file")
	envConfigPath := fs.String("env-config", os.Getenv("ENV_CONFIG_PATH"), "environment overlay config file")
	verbose := fs.Bool("v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return fmt.Errorf("failed to load .env: %w", err)
		}
	}

	cfg, err := config.Load(*configPath, *envConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Client.EdgeURL == "" {
		return errors.New("client.edge_url is not configured")
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var profiles session.ProfileStore
	if cfg.Session.Redis.Addr != "" {
		rc := session.NewRedisClient(
			cfg.Session.Redis.Addr,
			cfg.Session.Redis.Password,
			cfg.Session.Redis.DB,
			cfg.Session.Redis.MasterName,
		)
		defer rc.Close()
		profiles = session.NewRedisProfileStore(rc, cfg.Session.Prefix,
			config.ParseDuration(cfg.Session.ProfileTTL, 7*24*time.Hour))
	} else {
		logger.Warn("session.redis not configured, profile will not outlive this process")
	}

	client, err := portal.New(portal.Config{
		EdgeURL:         cfg.Client.EdgeURL,
		CookieFile:      cfg.Client.CookieFile,
		Profiles:        profiles,
		ProfileKey:      cfg.Client.ProfileKey,
		LoginPath:       cfg.Edge.LoginPath,
		RefreshTimeout:  config.ParseDuration(cfg.Client.RefreshTimeout, 0),
		TeardownTimeout: config.ParseDuration(cfg.Client.TeardownTimeout, 0),
		RefreshOutcomes: middleware.DefaultMetrics().RefreshOutcomes,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	cmdErr := dispatch(ctx, client, fs.Arg(0), fs.Args()[1:])
	if err := client.Close(); err != nil {
		logger.Warn("failed to close portal client", slog.String("error", err.Error()))
	}
	return cmdErr
}

func dispatch(ctx context.Context, client *portal.Client, cmd string, args []string) error {
	switch cmd {
	case "login":
		if len(args) != 1 {
			return errors.New("login takes exactly one username")
		}
		password := os.Getenv("PORTAL_PASSWORD")
		if password == "" {
			return errors.New("PORTAL_PASSWORD is not set")
		}
		user, err := client.Login(ctx, args[0], password)
		if err != nil {
			return err
		}
		return printJSON(user)

	case "whoami":
		snap, err := client.Restore(ctx)
		if err != nil {
			return sessionError(err)
		}
		if !snap.IsAuthenticated {
			return errors.New("not logged in")
		}
		return printJSON(snap.User)

	case "get":
		if len(args) != 1 {
			return errors.New("get takes exactly one path")
		}
		if _, err := client.Restore(ctx); err != nil {
			return sessionError(err)
		}
		var out json.RawMessage
		if err := client.GetJSON(ctx, args[0], &out); err != nil {
			return sessionError(err)
		}
		return printJSON(out)

	case "logout":
		// Logout proceeds whether or not the old session can be restored.
		_, _ = client.Restore(ctx)
		target, err := client.Logout(ctx)
		if err != nil {
			return err
		}
		fmt.Println(target)
		return nil

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func sessionError(err error) error {
	if portal.IsSessionEnded(err) {
		return fmt.Errorf("session ended, log in again: %w", err)
	}
	return err
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
