// Package notify delivers formatted messages to the Telegram Bot API.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// maxRetries is the number of additional attempts after the first
// failure, giving 1 + maxRetries attempts in total.
const maxRetries = 3

// defaultBackoffBase is the first retry delay; each subsequent retry
// doubles it.
const defaultBackoffBase = 2 * time.Second

// DeliveryError indicates that a notification could not be delivered
// after exhausting all retry attempts.
type DeliveryError struct {
	Attempts int
	Last     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf(
		"notification delivery failed after %d attempts: %v",
		e.Attempts, e.Last,
	)
}

func (e *DeliveryError) Unwrap() error {
	return e.Last
}

// IsDeliveryError reports whether err (or any error in its chain) is a
// DeliveryError.
func IsDeliveryError(err error) bool {
	var derr *DeliveryError
	return errors.As(err, &derr)
}

// sendMessageRequest is the sendMessage wire payload.
type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// Sender posts formatted text to a Telegram chat with bounded
// exponential-backoff retry.
type Sender struct {
	endpoint    string
	chatID      string
	client      *http.Client
	backoffBase time.Duration
	log         zerolog.Logger
}

// Option customizes a Sender.
type Option func(*Sender)

// WithHTTPClient overrides the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Sender) { s.client = c }
}

// WithBackoffBase overrides the first retry delay.
func WithBackoffBase(d time.Duration) Option {
	return func(s *Sender) { s.backoffBase = d }
}

// WithEndpoint overrides the full sendMessage URL.
func WithEndpoint(url string) Option {
	return func(s *Sender) { s.endpoint = url }
}

// NewSender creates a Sender for the given API host, bot token, and
// destination chat.
func NewSender(apiHost, token, chatID string, log zerolog.Logger, opts ...Option) *Sender {
	s := &Sender{
		endpoint:    fmt.Sprintf("https://%s/bot%s/sendMessage", apiHost, token),
		chatID:      chatID,
		client:      &http.Client{Timeout: 30 * time.Second},
		backoffBase: defaultBackoffBase,
		log:         log.With().Str("component", "notify").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send delivers text to the configured chat in HTML parse mode with
// link previews disabled. On a non-2xx status or network failure it
// retries up to 3 more times, doubling the delay each time, and
// surfaces a DeliveryError once retries are exhausted.
func (s *Sender) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:                s.chatID,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("encoding notification payload: %w", err)
	}

	var lastErr error
	delay := s.backoffBase

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			s.log.Warn().
				Err(lastErr).
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Msg("retrying notification send")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}

		lastErr = s.post(ctx, body)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return &DeliveryError{Attempts: maxRetries + 1, Last: lastErr}
}

// post performs a single sendMessage attempt.
func (s *Sender) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, s.endpoint, bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Keep the response body as diagnostic text for triage.
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf(
			"notification API returned %s: %s",
			resp.Status, bytes.TrimSpace(detail),
		)
	}

	return nil
}
