// Command smartcache operates a read-through cache store from the command line.
// It is meant to be driven by an external scheduler (clean-expired) and by
// operators (migrate, invalidate, get).
//
// Usage:
//
//	smartcache [-driver NAME] [-dsn DSN] [-ttl DURATION] [-log-level LEVEL] [-env-file PATH] <command> [args]
//
// Commands:
//
//	migrate                             create the relational schema
//	clean-expired                       delete every entry older than the TTL
//	invalidate -subject ID [-source S]  delete the entries of a subject
//	get -subject ID -source S           print the last stored entry as JSON
//
// Settings not given as flags are read from SMARTCACHE_* environment variables.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goliatone/go-smartcache/cache"
	"github.com/goliatone/go-smartcache/pkg/di"
	"github.com/rs/zerolog"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type globalFlags struct {
	driver   string
	dsn      string
	ttl      time.Duration
	logLevel string
	envFile  string
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("smartcache", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var g globalFlags
	fs.StringVar(&g.driver, "driver", "", "record store driver: memory, sqlite3, postgres, redis, firestore")
	fs.StringVar(&g.dsn, "dsn", "", "connection string for sqlite3 and postgres")
	fs.DurationVar(&g.ttl, "ttl", 0, "staleness threshold (default 24h)")
	fs.StringVar(&g.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	fs.StringVar(&g.envFile, "env-file", "", "dotenv file with SMARTCACHE_* settings")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	level, err := zerolog.ParseLevel(g.logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "invalid log level %q\n", g.logLevel)
		return 2
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}
	command, rest := fs.Arg(0), fs.Args()[1:]

	cfg, err := loadConfig(g)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load configuration.")
		return 1
	}

	container, err := di.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Driver).Msg("Failed to initialise cache.")
		return 1
	}
	defer func() {
		if err := container.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close cache store.")
		}
	}()

	switch command {
	case "migrate":
		err = container.Migrate(ctx)
	case "clean-expired":
		err = container.Cache().CleanExpired(ctx)
	case "invalidate":
		err = runInvalidate(ctx, container.Cache(), rest, stderr)
	case "get":
		err = runGet(ctx, container.Cache(), rest, stdout, stderr)
	default:
		err = fmt.Errorf("unknown command %q", command)
	}
	if err != nil {
		logger.Error().Err(err).Str("command", command).Msg("Command failed.")
		return 1
	}

	logger.Info().Str("command", command).Msg("Command completed.")
	return 0
}

func loadConfig(g globalFlags) (di.Config, error) {
	var files []string
	if g.envFile != "" {
		files = append(files, g.envFile)
	}
	cfg, err := di.ConfigFromEnv(files...)
	if err != nil {
		return di.Config{}, err
	}

	if g.driver != "" {
		cfg.Driver = g.driver
	}
	if g.dsn != "" {
		cfg.DSN = g.dsn
	}
	if g.ttl != 0 {
		cfg.Cache.TTL = g.ttl
	}
	return cfg, nil
}

func runInvalidate(ctx context.Context, rt *cache.ReadThrough, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("invalidate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	subject := fs.String("subject", "", "subject id (required)")
	source := fs.String("source", "", "source name; all sources when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return errors.New("invalidate: -subject is required")
	}

	if *source == "" {
		return rt.Invalidate(ctx, *subject)
	}
	return rt.Invalidate(ctx, *subject, *source)
}

type entryView struct {
	SubjectID string          `json:"subject_id"`
	Source    string          `json:"source"`
	CachedAt  time.Time       `json:"cached_at"`
	Stale     bool            `json:"stale"`
	Payload   json.RawMessage `json:"payload"`
}

func runGet(ctx context.Context, rt *cache.ReadThrough, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	fs.SetOutput(stderr)
	subject := fs.String("subject", "", "subject id (required)")
	source := fs.String("source", "", "source name (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" || *source == "" {
		return errors.New("get: -subject and -source are required")
	}

	res, found, err := cache.Lookup[json.RawMessage](ctx, rt, *subject, *source)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no entry for subject %q and source %q", *subject, *source)
	}

	out, err := json.MarshalIndent(entryView{
		SubjectID: *subject,
		Source:    *source,
		CachedAt:  res.CachedAt,
		Stale:     res.Stale,
		Payload:   res.Data,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	_, err = fmt.Fprintln(stdout, string(out))
	return err
}
