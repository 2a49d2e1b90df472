package watch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/mailgram/internal/mail"
)

// Session is a live mail-server session as the supervisor sees it:
// one connection, one selected mailbox, one push subscription.
type Session interface {
	MailSession

	// Open selects the mailbox in read-write mode.
	Open(mailbox string) error

	// Idle starts server push notifications; the returned stop
	// function ends the IDLE command.
	Idle() (stop func() error, err error)

	// NewMail is signaled when the server announces new messages.
	NewMail() <-chan struct{}

	// Close tears down the session.
	Close() error
}

// DialFunc establishes a new authenticated session.
type DialFunc func(ctx context.Context) (Session, error)

// SupervisorConfig holds the session lifecycle tunables.
type SupervisorConfig struct {
	// Mailbox is the mailbox to watch.
	Mailbox string

	// ConnectAttempts is how many times one connect cycle tries
	// before giving up.
	ConnectAttempts int

	// ConnectBackoff is the delay before the second connect attempt;
	// it doubles for each further attempt.
	ConnectBackoff time.Duration

	// ReconnectDelay is the pause before a fresh cycle after a
	// session-level error or end-of-session event.
	ReconnectDelay time.Duration

	// FailureDelay is the pause before a fresh cycle after a connect
	// cycle exhausts all its attempts.
	FailureDelay time.Duration

	// IdleRefresh bounds how long a single IDLE command runs before
	// it is restarted. Servers are allowed to drop IDLE sessions
	// after 30 minutes (RFC 2177), so stay well under that.
	IdleRefresh time.Duration
}

// DefaultSupervisorConfig returns the standard lifecycle timings for
// the given mailbox.
func DefaultSupervisorConfig(mailbox string) SupervisorConfig {
	return SupervisorConfig{
		Mailbox:         mailbox,
		ConnectAttempts: 3,
		ConnectBackoff:  2 * time.Second,
		ReconnectDelay:  5 * time.Second,
		FailureDelay:    10 * time.Second,
		IdleRefresh:     24 * time.Minute,
	}
}

// Supervisor owns the mail-server session lifecycle: connect with
// retry, open the mailbox, run an initial sweep, listen for new-mail
// pushes, and schedule a fresh cycle whenever the session dies. At
// most one session is live at a time, and every poll runs on the
// supervisor goroutine, so poll cycles never overlap.
type Supervisor struct {
	dial   DialFunc
	poller *Poller
	cfg    SupervisorConfig
	log    zerolog.Logger
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(
	dial DialFunc,
	poller *Poller,
	cfg SupervisorConfig,
	log zerolog.Logger,
) *Supervisor {
	return &Supervisor{
		dial:   dial,
		poller: poller,
		cfg:    cfg,
		log:    log.With().Str("component", "supervisor").Logger(),
	}
}

// Run drives connection cycles until the context is canceled. No
// session failure is fatal; each one schedules a delayed fresh cycle.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.runSession(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := s.cfg.ReconnectDelay
		if mail.IsConnectError(err) || mail.IsMailboxOpenError(err) {
			delay = s.cfg.FailureDelay
		}

		s.log.Warn().Err(err).
			Dur("delay", delay).
			Msg("session ended, scheduling reconnect")

		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
	}
}

// runSession runs one full session cycle: connect, open mailbox,
// initial sweep, then the IDLE listen loop. It returns when the
// session dies or the context is canceled.
func (s *Supervisor) runSession(ctx context.Context) error {
	sess, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Open(s.cfg.Mailbox); err != nil {
		return err
	}
	s.log.Info().Str("mailbox", s.cfg.Mailbox).Msg("mailbox open")

	// Initial sweep picks up everything that arrived while we were
	// disconnected.
	if err := s.poller.PollOnce(ctx, sess); err != nil {
		return err
	}

	return s.listen(ctx, sess)
}

// listen alternates IDLE periods with poll cycles. Each new-mail push
// ends the current IDLE and triggers a poll; so does the periodic
// refresh, which doubles as a catch-up sweep for pushes the server
// never sent.
func (s *Supervisor) listen(ctx context.Context, sess Session) error {
	for {
		stop, err := sess.Idle()
		if err != nil {
			return err
		}

		refresh := time.NewTimer(s.cfg.IdleRefresh)

		select {
		case <-ctx.Done():
			refresh.Stop()
			_ = stop()
			return ctx.Err()
		case <-sess.NewMail():
			s.log.Debug().Msg("new mail notification")
		case <-refresh.C:
			s.log.Debug().Msg("restarting idle")
		}
		refresh.Stop()

		if err := stop(); err != nil {
			return err
		}

		if err := s.poller.PollOnce(ctx, sess); err != nil {
			return err
		}
	}
}

// connect attempts to dial a new session, backing off exponentially
// between attempts. The last dial error is returned once the attempt
// budget is spent.
func (s *Supervisor) connect(ctx context.Context) (Session, error) {
	var lastErr error
	delay := s.cfg.ConnectBackoff

	for attempt := 1; attempt <= s.cfg.ConnectAttempts; attempt++ {
		if attempt > 1 {
			s.log.Warn().Err(lastErr).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retrying connect")
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
			delay *= 2
		}

		sess, err := s.dial(ctx)
		if err == nil {
			s.log.Info().Msg("session established")
			return sess, nil
		}
		lastErr = err
	}

	return nil, lastErr
}

// sleepCtx waits for d or until the context is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
