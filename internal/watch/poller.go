// Package watch drives the mail-watch-and-forward pipeline: a
// connection supervisor owns the IMAP session lifecycle and a poller
// sweeps unseen messages through dedup, formatting, and delivery.
package watch

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nhle/mailgram/internal/format"
	"github.com/nhle/mailgram/internal/model"
	"github.com/nhle/mailgram/internal/store"
)

// MailSession is the subset of the IMAP session used by the poller.
type MailSession interface {
	// SearchUnseen returns UIDs of unseen messages received since the
	// given time, in server search order.
	SearchUnseen(ctx context.Context, since time.Time) ([]imap.UID, error)

	// Fetch retrieves and parses the full message for a UID without
	// marking it seen on the server.
	Fetch(ctx context.Context, uid imap.UID) (*model.ParsedMessage, error)
}

// Notifier delivers formatted text to the chat endpoint.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// PollerConfig holds the poller tunables.
type PollerConfig struct {
	// Window bounds the unseen search to messages received within
	// this duration.
	Window time.Duration

	// BatchLimit caps how many search results one poll processes.
	BatchLimit int

	// SendInterval is the pause before each send, keeping the
	// outbound rate at roughly one notification per interval. A
	// non-positive interval disables the pause.
	SendInterval time.Duration
}

// Poller performs one sweep of the mailbox per invocation: search,
// fetch, dedup-check, format, send, mark seen. Invocations are
// serialized by the supervisor, so the seen-set never sees concurrent
// writers.
type Poller struct {
	store     store.SeenStore
	sender    Notifier
	formatter *format.Formatter
	cfg       PollerConfig
	log       zerolog.Logger
}

// NewPoller creates a Poller.
func NewPoller(
	s store.SeenStore,
	sender Notifier,
	formatter *format.Formatter,
	cfg PollerConfig,
	log zerolog.Logger,
) *Poller {
	return &Poller{
		store:     s,
		sender:    sender,
		formatter: formatter,
		cfg:       cfg,
		log:       log.With().Str("component", "poller").Logger(),
	}
}

// PollOnce searches for unseen messages within the window and pushes
// each new one through the pipeline. A search failure is logged and
// treated as a transient no-op. Per-message failures are isolated: a
// bad message never aborts its siblings. Only context cancellation is
// returned as an error.
func (p *Poller) PollOnce(ctx context.Context, sess MailSession) error {
	since := time.Now().Add(-p.cfg.Window)

	uids, err := sess.SearchUnseen(ctx, since)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.log.Warn().Err(err).Msg("unseen search failed, skipping poll")
		return nil
	}

	if len(uids) > p.cfg.BatchLimit {
		p.log.Debug().
			Int("found", len(uids)).
			Int("limit", p.cfg.BatchLimit).
			Msg("truncating poll batch")
		uids = uids[:p.cfg.BatchLimit]
	}

	for _, uid := range uids {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.processMessage(ctx, sess, uid)
	}

	return nil
}

// processMessage runs one message through fetch → dedup → format →
// send → mark-seen. Failures are logged with the stage and identifier
// so operators can triage; none of them are fatal to the poll.
func (p *Poller) processMessage(ctx context.Context, sess MailSession, uid imap.UID) {
	msg, err := sess.Fetch(ctx, uid)
	if err != nil {
		p.log.Error().Err(err).
			Uint32("uid", uint32(uid)).
			Str("stage", "fetch").
			Msg("skipping message")
		return
	}

	id := messageID(msg)
	if p.store.Contains(id) {
		return
	}

	text := p.formatter.Format(msg)

	// Pace outbound sends so the notification API is never hit more
	// than roughly once per interval.
	if p.cfg.SendInterval > 0 {
		if err := sleepCtx(ctx, p.cfg.SendInterval); err != nil {
			return
		}
	}

	if err := p.sender.Send(ctx, text); err != nil {
		// Not marked seen: the message stays eligible for the next
		// poll, trading a possible duplicate for no silent loss.
		p.log.Error().Err(err).
			Str("id", id).
			Str("stage", "send").
			Msg("delivery failed, will retry on a later poll")
		return
	}

	if err := p.store.MarkSeen(id); err != nil {
		p.log.Error().Err(err).
			Str("id", id).
			Str("stage", "persist").
			Msg("seen-set write failed, message may be renotified")
		return
	}

	p.log.Info().
		Str("id", id).
		Str("subject", msg.Envelope.Subject).
		Msg("forwarded message")
}

// messageID derives the stable identifier for a message: the
// server-assigned UID when available, otherwise a synthesized
// timestamp-plus-random value. Synthesized identifiers are not stable
// across fetches, which is an accepted limitation for messages the
// server reports without a UID.
func messageID(msg *model.ParsedMessage) string {
	if msg.Envelope.UID != 0 {
		return strconv.FormatUint(uint64(msg.Envelope.UID), 10)
	}
	return fmt.Sprintf("synth-%d-%s", time.Now().UnixNano(), uuid.NewString()[:8])
}
