package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// Compact reclaims free pages and refreshes the query planner statistics.
	Compact(ctx context.Context) (CompactReport, error)

	// CreateSession inserts a new session, assigning its ID and timestamps.
	CreateSession(ctx context.Context, session *Session) error

	// GetSession retrieves a session by ID. Returns ErrNotFound if missing.
	GetSession(ctx context.Context, id string) (*Session, error)

	// GetSessionByExternalID retrieves the latest session bound to an external chat.
	GetSessionByExternalID(ctx context.Context, channel, externalID string) (*Session, error)

	// UpdateSession persists the mutable session fields.
	UpdateSession(ctx context.Context, session *Session) error

	// ListSessions returns the most recently active sessions.
	ListSessions(ctx context.Context, limit int) ([]*Session, error)

	// ListIdleSessions returns active sessions whose last activity is before the
	// cutoff and that were not reactivated since the user last wrote.
	ListIdleSessions(ctx context.Context, before time.Time, limit int) ([]*Session, error)

	// MarkReactivated records a reactivation nudge. The mark clears on the next
	// user message.
	MarkReactivated(ctx context.Context, sessionID string, at time.Time) error

	// InsertMessage appends a message to its session transcript and publishes it.
	InsertMessage(ctx context.Context, message *Message) error

	// ListMessages returns a session transcript in chronological order.
	ListMessages(ctx context.Context, sessionID string) ([]*Message, error)

	// AttachCharge patches the payment charge snapshot onto an existing message.
	AttachCharge(ctx context.Context, messageID string, charge ChargeSnapshot) error

	// UpdateChargeStatus refreshes the cached status of every message carrying the charge.
	UpdateChargeStatus(ctx context.Context, chargeID, status string) error

	// LatestChargeMessage returns the most recent message of the session carrying a charge.
	LatestChargeMessage(ctx context.Context, sessionID string) (*Message, error)

	// ListPendingCharges returns charge-carrying messages still pending, created after since.
	ListPendingCharges(ctx context.Context, since time.Time) ([]*Message, error)

	// LatestOperatorMessage returns the most recent operator message of the session.
	LatestOperatorMessage(ctx context.Context, sessionID string) (*Message, error)

	// SaveMediaAsset inserts or replaces a media catalog entry.
	SaveMediaAsset(ctx context.Context, asset *MediaAsset) error

	// ListMediaAssets returns catalog entries, optionally filtered by category.
	ListMediaAssets(ctx context.Context, category string) ([]*MediaAsset, error)

	// Subscribe registers for messages inserted into a session.
	Subscribe(ctx context.Context, sessionID string) (*Subscription, error)
}

// ChargeSnapshot is the payment data cached on a message.
type ChargeSnapshot struct {
	ID     string
	Code   string
	Amount float64
	Status string
}

const (
	sessionColumns = `id, created_at, updated_at, last_activity_at, channel, external_id, location,
		device_class, status, funnel_state, arousal, attachment, connection, spending_power, display_name`
	messageColumns = `id, session_id, sender, content, media_url, media_kind, charge_id, charge_code,
		charge_amount, charge_status, reasoning, funnel_state, action, created_at`
	assetColumns = `id, url, kind, category, description, tags, blurred, created_at`
)

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
	broker *Broker

	clockMu sync.Mutex
	lastTS  time.Time
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
		broker: NewBroker(logger),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// nextTimestamp returns a strictly increasing UTC timestamp so that messages
// inserted within the same clock tick keep their insertion order.
func (s *sqlxStore) nextTimestamp() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()

	now := time.Now().UTC()
	if !now.After(s.lastTS) {
		now = s.lastTS.Add(time.Microsecond)
	}
	s.lastTS = now
	return now
}

// CreateSession inserts a new session.
func (s *sqlxStore) CreateSession(ctx context.Context, session *Session) error {
	if session == nil {
		return fmt.Errorf("cannot create nil session")
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := s.nextTimestamp()
	session.CreatedAt = now
	session.UpdatedAt = now
	session.LastActivityAt = now
	if session.Status == "" {
		session.Status = StatusActive
	}
	if session.Channel == "" {
		session.Channel = ChannelWeb
	}
	if session.DeviceClass == "" {
		session.DeviceClass = "unknown"
	}

	query := `INSERT INTO sessions (` + sessionColumns + `) VALUES (
		:id, :created_at, :updated_at, :last_activity_at, :channel, :external_id, :location,
		:device_class, :status, :funnel_state, :arousal, :attachment, :connection, :spending_power, :display_name)`

	if _, err := s.db.NamedExecContext(ctx, query, session); err != nil {
		s.logger.ErrorContext(ctx, "Error creating session", "session_id", session.ID, "error", err)
		return fmt.Errorf("failed to create session %s: %w", session.ID, err)
	}

	s.logger.DebugContext(ctx, "Session created", "session_id", session.ID, "channel", session.Channel)
	return nil
}

// GetSession retrieves a session by ID.
func (s *sqlxStore) GetSession(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}

	var session Session
	err := s.db.GetContext(ctx, &session, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting session", "session_id", id, "error", err)
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return &session, nil
}

// GetSessionByExternalID retrieves the most recent session bound to an external chat.
func (s *sqlxStore) GetSessionByExternalID(ctx context.Context, channel, externalID string) (*Session, error) {
	var session Session
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE channel = ? AND external_id = ? AND status != ?
		ORDER BY created_at DESC LIMIT 1`
	err := s.db.GetContext(ctx, &session, query, channel, externalID, StatusClosed)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("session for %s:%s: %w", channel, externalID, ErrNotFound)
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting session by external id", "channel", channel, "external_id", externalID, "error", err)
		return nil, fmt.Errorf("failed to get session for %s:%s: %w", channel, externalID, err)
	}
	return &session, nil
}

// UpdateSession persists the mutable fields of a session.
func (s *sqlxStore) UpdateSession(ctx context.Context, session *Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("cannot update session without id")
	}
	session.UpdatedAt = time.Now().UTC()

	query := `UPDATE sessions SET
		updated_at = :updated_at,
		last_activity_at = :last_activity_at,
		location = :location,
		device_class = :device_class,
		status = :status,
		funnel_state = :funnel_state,
		arousal = :arousal,
		attachment = :attachment,
		connection = :connection,
		spending_power = :spending_power,
		display_name = :display_name
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, query, session)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error updating session", "session_id", session.ID, "error", err)
		return fmt.Errorf("failed to update session %s: %w", session.ID, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("session %s: %w", session.ID, ErrNotFound)
	}
	return nil
}

// ListSessions returns the most recently active sessions.
func (s *sqlxStore) ListSessions(ctx context.Context, limit int) ([]*Session, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var sessions []*Session
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY last_activity_at DESC LIMIT ?`
	if err := s.db.SelectContext(ctx, &sessions, query, limit); err != nil {
		s.logger.ErrorContext(ctx, "Error listing sessions", "error", err)
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// ListIdleSessions returns active sessions idle since before the cutoff.
func (s *sqlxStore) ListIdleSessions(ctx context.Context, before time.Time, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 50
	}
	var sessions []*Session
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE status = ? AND last_activity_at < ? AND reactivated_at IS NULL
		ORDER BY last_activity_at ASC LIMIT ?`
	if err := s.db.SelectContext(ctx, &sessions, query, StatusActive, before.UTC(), limit); err != nil {
		s.logger.ErrorContext(ctx, "Error listing idle sessions", "error", err)
		return nil, fmt.Errorf("failed to list idle sessions: %w", err)
	}
	return sessions, nil
}

// MarkReactivated stamps the session as nudged so it is not listed idle again
// until the user answers.
func (s *sqlxStore) MarkReactivated(ctx context.Context, sessionID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET reactivated_at = ? WHERE id = ?`, at.UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to mark session %s reactivated: %w", sessionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertMessage appends a message and publishes it to session subscribers
// once committed.
func (s *sqlxStore) InsertMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return fmt.Errorf("cannot save nil message")
	}
	if message.SessionID == "" {
		return fmt.Errorf("message must have a session_id")
	}
	if message.Sender == "" {
		return fmt.Errorf("message must have a sender")
	}
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	message.CreatedAt = s.nextTimestamp()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for saving message",
			"session_id", message.SessionID, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	query := `INSERT INTO messages (` + messageColumns + `) VALUES (
		:id, :session_id, :sender, :content, :media_url, :media_kind, :charge_id, :charge_code,
		:charge_amount, :charge_status, :reasoning, :funnel_state, :action, :created_at)`

	if _, err := tx.NamedExecContext(ctx, query, message); err != nil {
		s.logger.ErrorContext(ctx, "Error saving message", "session_id", message.SessionID, "sender", message.Sender, "error", err)
		return fmt.Errorf("failed to save message (session %s): %w", message.SessionID, err)
	}

	touch := `UPDATE sessions SET last_activity_at = ? WHERE id = ?`
	if message.Sender == SenderUser {
		touch = `UPDATE sessions SET last_activity_at = ?, reactivated_at = NULL WHERE id = ?`
	}
	if _, err := tx.ExecContext(ctx, touch, message.CreatedAt, message.SessionID); err != nil {
		return fmt.Errorf("failed to touch session %s: %w", message.SessionID, err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction", "session_id", message.SessionID, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.broker.Publish(message)
	s.logger.DebugContext(ctx, "Message saved successfully",
		"session_id", message.SessionID, "message_id", message.ID, "sender", message.Sender)
	return nil
}

// ListMessages returns the full transcript ordered by creation time.
func (s *sqlxStore) ListMessages(ctx context.Context, sessionID string) ([]*Message, error) {
	var messages []*Message
	query := `SELECT ` + messageColumns + ` FROM messages WHERE session_id = ? ORDER BY created_at ASC, rowid ASC`
	if err := s.db.SelectContext(ctx, &messages, query, sessionID); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching messages", "session_id", sessionID, "error", err)
			return nil, err
		}
		s.logger.ErrorContext(ctx, "Error listing messages", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("failed to list messages for session %s: %w", sessionID, err)
	}
	return messages, nil
}

// AttachCharge patches a payment snapshot onto an already persisted message.
func (s *sqlxStore) AttachCharge(ctx context.Context, messageID string, charge ChargeSnapshot) error {
	query := `UPDATE messages SET charge_id = ?, charge_code = ?, charge_amount = ?, charge_status = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, charge.ID, charge.Code, charge.Amount, charge.Status, messageID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error attaching charge", "message_id", messageID, "charge_id", charge.ID, "error", err)
		return fmt.Errorf("failed to attach charge %s to message %s: %w", charge.ID, messageID, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	return nil
}

// UpdateChargeStatus refreshes the cached status of a charge.
func (s *sqlxStore) UpdateChargeStatus(ctx context.Context, chargeID, status string) error {
	if chargeID == "" {
		return fmt.Errorf("charge id cannot be empty")
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE messages SET charge_status = ? WHERE charge_id = ?`, status, chargeID); err != nil {
		s.logger.ErrorContext(ctx, "Error updating charge status", "charge_id", chargeID, "error", err)
		return fmt.Errorf("failed to update charge %s: %w", chargeID, err)
	}
	return nil
}

// LatestChargeMessage returns the newest charge-carrying message of a session.
func (s *sqlxStore) LatestChargeMessage(ctx context.Context, sessionID string) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE session_id = ? AND charge_id != ''
		ORDER BY created_at DESC, rowid DESC LIMIT 1`
	return s.getMessage(ctx, query, sessionID)
}

// LatestOperatorMessage returns the newest operator message of a session.
func (s *sqlxStore) LatestOperatorMessage(ctx context.Context, sessionID string) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE session_id = ? AND sender = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`
	return s.getMessage(ctx, query, sessionID, SenderOperator)
}

func (s *sqlxStore) getMessage(ctx context.Context, query string, args ...any) (*Message, error) {
	var msg Message
	err := s.db.GetContext(ctx, &msg, query, args...)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting message", "error", err)
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &msg, nil
}

// ListPendingCharges returns pending charge messages created after since.
func (s *sqlxStore) ListPendingCharges(ctx context.Context, since time.Time) ([]*Message, error) {
	var messages []*Message
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE charge_id != '' AND charge_status = 'pending' AND created_at > ?
		ORDER BY created_at ASC`
	if err := s.db.SelectContext(ctx, &messages, query, since.UTC()); err != nil {
		s.logger.ErrorContext(ctx, "Error listing pending charges", "error", err)
		return nil, fmt.Errorf("failed to list pending charges: %w", err)
	}
	return messages, nil
}

// SaveMediaAsset inserts or replaces a catalog entry.
func (s *sqlxStore) SaveMediaAsset(ctx context.Context, asset *MediaAsset) error {
	if asset == nil || asset.URL == "" || asset.Kind == "" {
		return fmt.Errorf("media asset requires url and kind")
	}
	if asset.ID == "" {
		asset.ID = uuid.NewString()
	}
	if asset.Category == "" {
		asset.Category = CategoryPreview
	}
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = s.nextTimestamp()
	}

	query := `INSERT OR REPLACE INTO media_assets (` + assetColumns + `)
		VALUES (:id, :url, :kind, :category, :description, :tags, :blurred, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, query, asset); err != nil {
		s.logger.ErrorContext(ctx, "Error saving media asset", "asset_id", asset.ID, "error", err)
		return fmt.Errorf("failed to save media asset %s: %w", asset.ID, err)
	}
	return nil
}

// ListMediaAssets returns catalog entries in creation order.
func (s *sqlxStore) ListMediaAssets(ctx context.Context, category string) ([]*MediaAsset, error) {
	var assets []*MediaAsset
	var err error
	if category == "" {
		err = s.db.SelectContext(ctx, &assets, `SELECT `+assetColumns+` FROM media_assets ORDER BY created_at ASC`)
	} else {
		err = s.db.SelectContext(ctx, &assets,
			`SELECT `+assetColumns+` FROM media_assets WHERE category = ? ORDER BY created_at ASC`, category)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing media assets", "category", category, "error", err)
		return nil, fmt.Errorf("failed to list media assets: %w", err)
	}
	return assets, nil
}

// Subscribe registers for messages inserted into a session.
func (s *sqlxStore) Subscribe(ctx context.Context, sessionID string) (*Subscription, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}
	return s.broker.Subscribe(ctx, sessionID), nil
}

// CompactReport describes one Compact run. Sizes are in pages.
type CompactReport struct {
	PagesBefore int64
	PagesAfter  int64
	FreePages   int64
	Vacuumed    bool
}

// Reclaimed returns the number of pages returned to the filesystem.
func (r CompactReport) Reclaimed() int64 {
	return r.PagesBefore - r.PagesAfter
}

// Compact runs VACUUM only when the freelist holds pages to reclaim, then
// PRAGMA optimize. Transcripts are append-mostly, so most runs skip VACUUM.
func (s *sqlxStore) Compact(ctx context.Context) (CompactReport, error) {
	var report CompactReport
	if err := ctx.Err(); err != nil {
		return report, err
	}

	if err := s.db.GetContext(ctx, &report.PagesBefore, "PRAGMA page_count"); err != nil {
		return report, fmt.Errorf("failed to read page count: %w", err)
	}
	if err := s.db.GetContext(ctx, &report.FreePages, "PRAGMA freelist_count"); err != nil {
		return report, fmt.Errorf("failed to read freelist count: %w", err)
	}
	report.PagesAfter = report.PagesBefore

	if report.FreePages > 0 {
		if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
			return report, fmt.Errorf("failed to vacuum: %w", err)
		}
		report.Vacuumed = true
		if err := s.db.GetContext(ctx, &report.PagesAfter, "PRAGMA page_count"); err != nil {
			return report, fmt.Errorf("failed to read page count after vacuum: %w", err)
		}
	}

	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return report, fmt.Errorf("failed to optimize: %w", err)
	}
	return report, nil
}
