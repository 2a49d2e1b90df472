// Command mailgram watches an IMAP mailbox and forwards a summary of
// every unseen message to a Telegram chat.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/mailgram/internal/format"
	"github.com/nhle/mailgram/internal/mail"
	"github.com/nhle/mailgram/internal/model"
	"github.com/nhle/mailgram/internal/notify"
	"github.com/nhle/mailgram/internal/store"
	"github.com/nhle/mailgram/internal/watch"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mailgram: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String(
		"config", model.DefaultConfigPath(), "path to the config file",
	)
	flag.Parse()

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}

	seen, err := openStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("opening seen-set store: %w", err)
	}
	defer seen.Close()

	sender := notify.NewSender(
		cfg.Telegram.APIHost, cfg.Telegram.Token, cfg.Telegram.ChatID, log,
	)
	formatter := format.New(cfg.Watch.MaxBodyChars)
	client := mail.NewClient(cfg.IMAP, log)

	poller := watch.NewPoller(seen, sender, formatter, watch.PollerConfig{
		Window:       time.Duration(cfg.Watch.WindowDays) * 24 * time.Hour,
		BatchLimit:   cfg.Watch.BatchLimit,
		SendInterval: cfg.SendInterval(),
	}, log)

	dial := func(ctx context.Context) (watch.Session, error) {
		return client.Dial(ctx)
	}
	supervisor := watch.NewSupervisor(
		dial, poller, watch.DefaultSupervisorConfig(cfg.IMAP.Mailbox), log,
	)

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	log.Info().
		Str("host", cfg.IMAP.Host).
		Str("mailbox", cfg.IMAP.Mailbox).
		Msg("starting mailbox watch")

	if err := supervisor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info().Msg("shutting down")
	return nil
}

// newLogger builds the process logger from config.
func newLogger(cfg model.LogConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	if cfg.Pretty {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return log, nil
}

// openStore builds the configured seen-set backend. A load failure
// (for example a corrupt file) is fatal at startup.
func openStore(cfg model.StoreConfig) (store.SeenStore, error) {
	switch cfg.Backend {
	case "sqlite":
		return store.NewSQLiteStore(cfg.Path)
	default:
		return store.NewFileStore(cfg.Path)
	}
}
