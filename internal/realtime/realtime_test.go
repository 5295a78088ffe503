package realtime_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/funnelbot/internal/config"
	"github.com/edgard/funnelbot/internal/database"
	"github.com/edgard/funnelbot/internal/realtime"
)

type fakeFeed struct {
	ch     chan *database.Message
	ready  chan struct{}
	lagged chan struct{}
}

func newFakeFeed(ready bool) *fakeFeed {
	f := &fakeFeed{ch: make(chan *database.Message, 8), ready: make(chan struct{}), lagged: make(chan struct{})}
	if ready {
		close(f.ready)
	}
	return f
}

func (f *fakeFeed) C() <-chan *database.Message { return f.ch }
func (f *fakeFeed) Ready() <-chan struct{}      { return f.ready }
func (f *fakeFeed) Lagged() <-chan struct{}     { return f.lagged }
func (f *fakeFeed) Close()                      {}

func (s *fakeSource) setLatest(m *database.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = m
}

type fakeSource struct {
	feed *fakeFeed

	mu     sync.Mutex
	latest *database.Message
	polls  int
}

func (s *fakeSource) Subscribe(context.Context, string) (realtime.Feed, error) {
	return s.feed, nil
}

func (s *fakeSource) LatestOperatorMessage(context.Context, string) (*database.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	if s.latest == nil {
		return nil, database.ErrNotFound
	}
	return s.latest, nil
}

func (s *fakeSource) pollCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

var fastConfig = config.RealtimeConfig{Grace: 10 * time.Millisecond, PollInterval: 5 * time.Millisecond}

type collector struct {
	mu  sync.Mutex
	ids []string
}

func (c *collector) add(m *database.Message) {
	c.mu.Lock()
	c.ids = append(c.ids, m.ID)
	c.mu.Unlock()
}

func (c *collector) get() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

func TestTranscript_Dedupe(t *testing.T) {
	t.Parallel()

	a := &database.Message{ID: "a"}
	tr := realtime.NewTranscript(a)
	assert.False(t, tr.Append(&database.Message{ID: "a"}))
	assert.True(t, tr.Append(&database.Message{ID: "b"}))
	assert.False(t, tr.Append(&database.Message{}))
	assert.False(t, tr.Append(nil))
	assert.Equal(t, 2, tr.Len())
	assert.True(t, tr.Has("b"))
}

func TestSync_PushAndPollConverge(t *testing.T) {
	t.Parallel()

	op := &database.Message{ID: "op-1", SessionID: "s1", Sender: database.SenderOperator, Content: "oi"}
	src := &fakeSource{feed: newFakeFeed(false), latest: op}
	src.feed.ch <- op

	var got collector
	s := realtime.NewSync(src, "s1", nil, fastConfig, got.add, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return src.pollCount() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"op-1"}, got.get())
	assert.Equal(t, 1, s.Transcript().Len())
}

func TestSync_IgnoresNonOperatorPushes(t *testing.T) {
	t.Parallel()

	src := &fakeSource{feed: newFakeFeed(true)}
	src.feed.ch <- &database.Message{ID: "u1", Sender: database.SenderUser}
	src.feed.ch <- &database.Message{ID: "p1", Sender: database.SenderPersona}
	src.feed.ch <- &database.Message{ID: "o1", Sender: database.SenderOperator}

	var got collector
	s := realtime.NewSync(src, "s1", nil, fastConfig, got.add, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return len(got.get()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(3 * fastConfig.Grace)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"o1"}, got.get())
	assert.Equal(t, 1, src.pollCount(), "ready subscription only polls once to catch up")
}

func TestSync_PollsAfterDroppedPush(t *testing.T) {
	t.Parallel()

	src := &fakeSource{feed: newFakeFeed(true)}
	var got collector
	s := realtime.NewSync(src, "s1", nil, fastConfig, got.add, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(3 * fastConfig.Grace)
	assert.Equal(t, 1, src.pollCount(), "healthy push does not poll")

	// The operator message never reaches the feed.
	src.setLatest(&database.Message{ID: "op-lost", SessionID: "s1", Sender: database.SenderOperator, Content: "voltei"})
	close(src.feed.lagged)

	require.Eventually(t, func() bool { return len(got.get()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []string{"op-lost"}, got.get())
}

func TestSync_PollingStopsOnCancel(t *testing.T) {
	t.Parallel()

	src := &fakeSource{feed: newFakeFeed(false)}
	s := realtime.NewSync(src, "s1", nil, fastConfig, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return src.pollCount() >= 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	after := src.pollCount()
	time.Sleep(5 * fastConfig.PollInterval)
	assert.Equal(t, after, src.pollCount())
}

func TestSync_WithStore(t *testing.T) {
	t.Parallel()

	db, err := database.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })
	store := database.NewStore(db, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := &database.Session{}
	require.NoError(t, store.CreateSession(ctx, session))

	var got collector
	s := realtime.NewSync(realtime.FromStore(store), session.ID, nil, fastConfig, got.add, nil)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Let the subscription register before inserting.
	time.Sleep(20 * time.Millisecond)
	op := &database.Message{SessionID: session.ID, Sender: database.SenderOperator, Content: "assumi aqui"}
	require.NoError(t, store.InsertMessage(ctx, op))
	require.NoError(t, store.InsertMessage(ctx, &database.Message{SessionID: session.ID, Sender: database.SenderUser, Content: "oi"}))

	require.Eventually(t, func() bool { return len(got.get()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{op.ID}, got.get())

	cancel()
	require.NoError(t, <-done)
}
