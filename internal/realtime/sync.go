package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edgard/funnelbot/internal/config"
	"github.com/edgard/funnelbot/internal/database"
)

// Feed is a push subscription to inserted messages.
type Feed interface {
	C() <-chan *database.Message
	Ready() <-chan struct{}
	Lagged() <-chan struct{}
	Close()
}

// Source provides the push and poll paths.
type Source interface {
	Subscribe(ctx context.Context, sessionID string) (Feed, error)
	LatestOperatorMessage(ctx context.Context, sessionID string) (*database.Message, error)
}

type storeSource struct {
	store database.Store
}

// FromStore adapts a store to a Source.
func FromStore(store database.Store) Source {
	return storeSource{store: store}
}

func (s storeSource) Subscribe(ctx context.Context, sessionID string) (Feed, error) {
	sub, err := s.store.Subscribe(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s storeSource) LatestOperatorMessage(ctx context.Context, sessionID string) (*database.Message, error) {
	return s.store.LatestOperatorMessage(ctx, sessionID)
}

// Sync watches one session for operator messages.
type Sync struct {
	source     Source
	sessionID  string
	transcript *Transcript
	grace      time.Duration
	interval   time.Duration
	onNew      func(*database.Message)
	logger     *slog.Logger

	emitMu sync.Mutex
}

// NewSync creates a sync for sessionID. onNew is called, never concurrently,
// for every operator message newly appended to transcript.
func NewSync(source Source, sessionID string, transcript *Transcript, cfg config.RealtimeConfig, onNew func(*database.Message), logger *slog.Logger) *Sync {
	if transcript == nil {
		transcript = NewTranscript()
	}
	if onNew == nil {
		onNew = func(*database.Message) {}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sync{
		source:     source,
		sessionID:  sessionID,
		transcript: transcript,
		grace:      cfg.Grace,
		interval:   cfg.PollInterval,
		onNew:      onNew,
		logger:     logger.With("component", "realtime_sync", "session_id", sessionID),
	}
}

// Transcript returns the transcript the sync appends to.
func (s *Sync) Transcript() *Transcript {
	return s.transcript
}

// Run runs the push and fallback tasks until ctx is done.
func (s *Sync) Run(ctx context.Context) error {
	feed, err := s.source.Subscribe(ctx, s.sessionID)
	if err != nil {
		s.logger.WarnContext(ctx, "Push subscription failed, relying on polling", "error", err)
		feed = nil
	} else {
		// Catch up on an insert that landed before the subscription.
		s.poll(ctx)
	}

	g, gCtx := errgroup.WithContext(ctx)
	if feed != nil {
		g.Go(func() error {
			defer feed.Close()
			return s.push(gCtx, feed)
		})
	}
	g.Go(func() error {
		return s.fallback(gCtx, feed)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (s *Sync) push(ctx context.Context, feed Feed) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-feed.C():
			if !ok {
				s.logger.DebugContext(ctx, "Push subscription closed")
				return nil
			}
			if msg.Sender == database.SenderOperator {
				s.emit(msg)
			}
		}
	}
}

// fallback polls the latest operator message while the push subscription is
// unconfirmed after the grace period, and again for good once it has dropped
// a message.
func (s *Sync) fallback(ctx context.Context, feed Feed) error {
	var ready, lagged <-chan struct{}
	if feed != nil {
		ready = feed.Ready()
		lagged = feed.Lagged()
	}

	grace := time.NewTimer(s.grace)
	defer grace.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-grace.C:
	}

	select {
	case <-ready:
	default:
		s.logger.InfoContext(ctx, "Push subscription unconfirmed, polling for operator messages", "interval", s.interval)
		if !s.pollUntil(ctx, ready) {
			return nil
		}
		s.logger.InfoContext(ctx, "Push subscription confirmed, polling stopped")
	}

	select {
	case <-ctx.Done():
		return nil
	case <-lagged:
	}
	s.logger.WarnContext(ctx, "Push subscription dropped messages, polling for operator messages", "interval", s.interval)
	s.pollUntil(ctx, nil)
	return nil
}

// pollUntil polls on every tick until stop is closed, reporting true, or ctx
// is done, reporting false. A nil stop polls until ctx is done.
func (s *Sync) pollUntil(ctx context.Context, stop <-chan struct{}) bool {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.poll(ctx)
		select {
		case <-ctx.Done():
			return false
		case <-stop:
			return true
		case <-ticker.C:
		}
	}
}

func (s *Sync) poll(ctx context.Context) {
	msg, err := s.source.LatestOperatorMessage(ctx, s.sessionID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return
	case err != nil:
		if ctx.Err() == nil {
			s.logger.WarnContext(ctx, "Failed to poll operator messages", "error", err)
		}
		return
	}
	s.emit(msg)
}

func (s *Sync) emit(msg *database.Message) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.transcript.Append(msg) {
		s.onNew(msg)
	}
}
