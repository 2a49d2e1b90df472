// Package mail wraps go-imap v2 into the session model used by the
// watch pipeline: one long-lived authenticated connection per cycle,
// with unseen-message search, full-message fetch, and IDLE push
// notifications.
package mail

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/rs/zerolog"

	"github.com/nhle/mailgram/internal/model"
)

// Client holds the IMAP connection settings and dials new sessions.
type Client struct {
	host     string
	port     int
	username string
	password string
	tls      bool
	log      zerolog.Logger
}

// NewClient creates a new IMAP client configuration.
func NewClient(cfg model.IMAPConfig, log zerolog.Logger) *Client {
	return &Client{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
		tls:      cfg.TLS,
		log:      log.With().Str("component", "imap").Logger(),
	}
}

// Dial establishes a connection to the IMAP server and authenticates,
// returning a live Session. The caller owns the session and must call
// Close on it.
func (c *Client) Dial(_ context.Context) (*Session, error) {
	addr := fmt.Sprintf("%s:%d", c.host, c.port)

	sess := &Session{
		log:     c.log,
		newMail: make(chan struct{}, 1),
	}

	options := &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: sess.handleMailboxUpdate,
		},
	}

	var client *imapclient.Client
	var err error

	if c.tls {
		client, err = imapclient.DialTLS(addr, options)
	} else {
		client, err = imapclient.DialStartTLS(addr, options)
	}
	if err != nil {
		return nil, &ConnectError{Addr: addr, Err: err}
	}

	if err := client.Login(c.username, c.password).Wait(); err != nil {
		_ = client.Close()
		return nil, &ConnectError{
			Addr: addr,
			Err:  fmt.Errorf("authenticating %s: %w", c.username, err),
		}
	}

	sess.client = client
	return sess, nil
}

// Session is a single authenticated IMAP connection with one selected
// mailbox. It is not safe for concurrent use; the supervisor drives it
// from a single goroutine.
type Session struct {
	client  *imapclient.Client
	log     zerolog.Logger
	newMail chan struct{}
}

// handleMailboxUpdate receives unilateral mailbox data from the
// server. An EXISTS update means new mail arrived; the signal channel
// coalesces bursts into a single pending poll trigger.
func (s *Session) handleMailboxUpdate(data *imapclient.UnilateralDataMailbox) {
	if data.NumMessages == nil {
		return
	}
	select {
	case s.newMail <- struct{}{}:
	default:
	}
}

// NewMail returns the channel signaled when the server announces new
// messages in the selected mailbox.
func (s *Session) NewMail() <-chan struct{} {
	return s.newMail
}

// Open selects the given mailbox in read-write mode.
func (s *Session) Open(mailbox string) error {
	if _, err := s.client.Select(mailbox, nil).Wait(); err != nil {
		return &MailboxOpenError{Mailbox: mailbox, Err: err}
	}
	return nil
}

// SearchUnseen returns the UIDs of messages that are unseen and were
// received since the given time, in server search order.
func (s *Session) SearchUnseen(_ context.Context, since time.Time) ([]imap.UID, error) {
	criteria := &imap.SearchCriteria{
		Since:   since,
		NotFlag: []imap.Flag{imap.FlagSeen},
	}

	searchData, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching unseen messages: %w", err)
	}

	return searchData.AllUIDs(), nil
}

// Fetch retrieves the full message body for the given UID without
// setting the seen flag, and parses it into a ParsedMessage.
func (s *Session) Fetch(_ context.Context, uid imap.UID) (*model.ParsedMessage, error) {
	uidSet := imap.UIDSetNum(uid)

	bodySection := &imap.FetchItemBodySection{
		Peek: true,
	}

	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := s.client.Fetch(uidSet, fetchOpts)
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("message UID %d not found", uid)
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message data: %w", err)
	}

	parsed := &model.ParsedMessage{
		Envelope: envelopeFromBuffer(buf),
	}

	rawBody := buf.FindBodySection(bodySection)
	if rawBody != nil {
		textBody, htmlBody, attachments, err := ParseBody(rawBody)
		if err != nil {
			return nil, &ParseError{UID: uint32(uid), Err: err}
		}
		parsed.TextBody = textBody
		parsed.HTMLBody = htmlBody
		parsed.Attachments = attachments
	}

	if err := fetchCmd.Close(); err != nil {
		return parsed, fmt.Errorf("closing fetch: %w", err)
	}

	return parsed, nil
}

// Idle starts an IDLE command so the server can push new-mail
// notifications. The returned stop function ends the IDLE session and
// reports any session-level failure.
func (s *Session) Idle() (stop func() error, err error) {
	idleCmd, err := s.client.Idle()
	if err != nil {
		return nil, fmt.Errorf("starting IDLE: %w", err)
	}

	return func() error {
		if err := idleCmd.Close(); err != nil {
			return fmt.Errorf("stopping IDLE: %w", err)
		}
		return idleCmd.Wait()
	}, nil
}

// Close logs out and tears down the connection.
func (s *Session) Close() error {
	if err := s.client.Logout().Wait(); err != nil {
		// Logout may fail on a dead connection; force the close.
		s.log.Debug().Err(err).Msg("logout failed, closing connection")
		return s.client.Close()
	}
	return nil
}

// envelopeFromBuffer extracts an Envelope from a FetchMessageBuffer.
func envelopeFromBuffer(buf *imapclient.FetchMessageBuffer) model.Envelope {
	env := model.Envelope{
		UID: uint32(buf.UID),
	}

	if buf.Envelope != nil {
		env.MessageID = buf.Envelope.MessageID
		env.Subject = buf.Envelope.Subject
		env.Date = buf.Envelope.Date

		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			if from.Name != "" {
				env.From = fmt.Sprintf("%s <%s>", from.Name, from.Addr())
			} else {
				env.From = from.Addr()
			}
		}

		for _, to := range buf.Envelope.To {
			env.To = append(env.To, to.Addr())
		}
	}

	return env
}
