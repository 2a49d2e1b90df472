package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailgram/internal/format"
	"github.com/nhle/mailgram/internal/model"
	"github.com/nhle/mailgram/internal/store"
)

// fakeMailSession serves canned messages to the poller. The mutex
// allows supervisor tests to swap the UID list while a session runs.
type fakeMailSession struct {
	mu        sync.Mutex
	uids      []imap.UID
	searchErr error
	fetchErr  map[imap.UID]error
	fetches   int
}

func (f *fakeMailSession) setUIDs(uids []imap.UID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uids = uids
}

func (f *fakeMailSession) SearchUnseen(_ context.Context, _ time.Time) ([]imap.UID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.uids, nil
}

func (f *fakeMailSession) Fetch(_ context.Context, uid imap.UID) (*model.ParsedMessage, error) {
	f.mu.Lock()
	f.fetches++
	f.mu.Unlock()
	if err, ok := f.fetchErr[uid]; ok {
		return nil, err
	}
	return &model.ParsedMessage{
		Envelope: model.Envelope{
			UID:     uint32(uid),
			Subject: fmt.Sprintf("message %d", uid),
			From:    "sender@example.com",
		},
		TextBody: "body",
	}, nil
}

// fakeSender records sends and optionally fails them.
type fakeSender struct {
	sent []string
	err  error
}

func (f *fakeSender) Send(_ context.Context, text string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, text)
	return nil
}

func newTestPoller(t *testing.T, sender Notifier) (*Poller, *store.FileStore) {
	t.Helper()
	s, err := store.NewFileStore(filepath.Join(t.TempDir(), "seen.json"))
	require.NoError(t, err)

	p := NewPoller(s, sender, format.New(500), PollerConfig{
		Window:     30 * 24 * time.Hour,
		BatchLimit: 50,
	}, zerolog.Nop())
	return p, s
}

func TestPollOnceSkipsAlreadySeen(t *testing.T) {
	sender := &fakeSender{}
	p, seen := newTestPoller(t, sender)

	// One of the two unseen messages was already forwarded.
	require.NoError(t, seen.MarkSeen("1"))
	before := seen.Len()

	sess := &fakeMailSession{uids: []imap.UID{1, 2}}
	require.NoError(t, p.PollOnce(context.Background(), sess))

	assert.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0], "message 2")
	assert.Equal(t, before+1, seen.Len())
	assert.True(t, seen.Contains("2"))
}

func TestPollOnceIdempotentAcrossPolls(t *testing.T) {
	sender := &fakeSender{}
	p, _ := newTestPoller(t, sender)

	sess := &fakeMailSession{uids: []imap.UID{5}}
	require.NoError(t, p.PollOnce(context.Background(), sess))
	require.NoError(t, p.PollOnce(context.Background(), sess))

	assert.Len(t, sender.sent, 1, "second offering of the same id is a no-op")
}

func TestPollOnceTruncatesBatch(t *testing.T) {
	sender := &fakeSender{}
	p, _ := newTestPoller(t, sender)

	uids := make([]imap.UID, 60)
	for i := range uids {
		uids[i] = imap.UID(i + 1)
	}
	sess := &fakeMailSession{uids: uids}

	require.NoError(t, p.PollOnce(context.Background(), sess))

	assert.Equal(t, 50, sess.fetches, "only the first 50 candidates are processed")
	assert.Len(t, sender.sent, 50)
}

func TestPollOnceSearchFailureIsTransient(t *testing.T) {
	sender := &fakeSender{}
	p, _ := newTestPoller(t, sender)

	sess := &fakeMailSession{searchErr: errors.New("server busy")}
	assert.NoError(t, p.PollOnce(context.Background(), sess))
	assert.Empty(t, sender.sent)
}

func TestPollOnceIsolatesPerMessageFailures(t *testing.T) {
	sender := &fakeSender{}
	p, seen := newTestPoller(t, sender)

	sess := &fakeMailSession{
		uids:     []imap.UID{1, 2, 3},
		fetchErr: map[imap.UID]error{2: errors.New("broken message")},
	}

	require.NoError(t, p.PollOnce(context.Background(), sess))

	assert.Len(t, sender.sent, 2, "bad message must not abort its siblings")
	assert.True(t, seen.Contains("1"))
	assert.False(t, seen.Contains("2"))
	assert.True(t, seen.Contains("3"))
}

func TestPollOnceFailedSendNotMarkedSeen(t *testing.T) {
	sender := &fakeSender{err: errors.New("api down")}
	p, seen := newTestPoller(t, sender)

	sess := &fakeMailSession{uids: []imap.UID{9}}
	require.NoError(t, p.PollOnce(context.Background(), sess))
	assert.False(t, seen.Contains("9"))

	// Delivery recovers: the next poll retries the same message.
	sender.err = nil
	require.NoError(t, p.PollOnce(context.Background(), sess))
	assert.Len(t, sender.sent, 1)
	assert.True(t, seen.Contains("9"))
}

func TestPollOncePacesSends(t *testing.T) {
	sender := &fakeSender{}
	s, err := store.NewFileStore(filepath.Join(t.TempDir(), "seen.json"))
	require.NoError(t, err)

	interval := 20 * time.Millisecond
	p := NewPoller(s, sender, format.New(500), PollerConfig{
		Window:       time.Hour,
		BatchLimit:   50,
		SendInterval: interval,
	}, zerolog.Nop())

	sess := &fakeMailSession{uids: []imap.UID{1, 2}}
	start := time.Now()
	require.NoError(t, p.PollOnce(context.Background(), sess))

	assert.GreaterOrEqual(t, time.Since(start), 2*interval)
	assert.Len(t, sender.sent, 2)
}

func TestMessageIDSynthesizedWithoutUID(t *testing.T) {
	a := messageID(&model.ParsedMessage{})
	b := messageID(&model.ParsedMessage{})

	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "synth-")

	withUID := messageID(&model.ParsedMessage{Envelope: model.Envelope{UID: 77}})
	assert.Equal(t, "77", withUID)
}
