// Package engine hosts the conversation funnel. The generator decides the
// funnel state of every turn; the engine supplies durable history, rebuilds
// the instruction block, enforces the reply contract, resolves side effects
// and persists the outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/edgard/funnelbot/internal/action"
	"github.com/edgard/funnelbot/internal/config"
	"github.com/edgard/funnelbot/internal/database"
	"github.com/edgard/funnelbot/internal/funnel"
	"github.com/edgard/funnelbot/internal/gemini"
	"github.com/edgard/funnelbot/internal/media"
	"github.com/edgard/funnelbot/internal/payment"
	"github.com/edgard/funnelbot/internal/prompt"
	"github.com/edgard/funnelbot/internal/text"
)

var (
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrEmptyInput is returned when a turn carries neither text nor audio.
	ErrEmptyInput = errors.New("empty input")
	// ErrInvalidStatus is returned by SetStatus for unknown statuses.
	ErrInvalidStatus = errors.New("invalid session status")
)

// audioPlaceholder is persisted as the content of audio-only user turns.
const audioPlaceholder = "[audio message]"

// Input is one inbound end-user turn.
type Input struct {
	Text      string
	Audio     []byte
	AudioMIME string
	// System marks platform-injected input. It is shown to the generator
	// but never persisted as a user message.
	System bool
}

// Result is the outcome of a processed turn.
type Result struct {
	Session       *database.Session
	Reply         *funnel.StructuredReply
	Messages      []*database.Message
	Media         *media.Asset
	Charge        *funnel.Charge
	Paused        bool
	Fallback      bool
	PaymentChecks int
}

// Deps are the collaborators of the engine.
type Deps struct {
	Store     database.Store
	Generator gemini.Client
	Gateway   payment.Gateway
	Resolver  *action.Resolver
	Tracker   *media.Tracker
	Window    *text.Window
	Logger    *slog.Logger
}

// Engine processes conversation turns. Callers must not run two turns of
// the same session concurrently; see the queue package.
type Engine struct {
	store     database.Store
	generator gemini.Client
	gateway   payment.Gateway
	resolver  *action.Resolver
	tracker   *media.Tracker
	window    *text.Window
	funnel    config.FunnelConfig
	messages  config.MessagesConfig
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an engine.
func New(deps Deps, funnelCfg config.FunnelConfig, messages config.MessagesConfig) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracker := deps.Tracker
	if tracker == nil {
		tracker = media.NewTracker()
	}
	window := deps.Window
	if window == nil {
		window = text.NewWindow(funnelCfg.HistoryMaxTokens, nil, logger)
	}
	return &Engine{
		store:     deps.Store,
		generator: deps.Generator,
		gateway:   deps.Gateway,
		resolver:  deps.Resolver,
		tracker:   tracker,
		window:    window,
		funnel:    funnelCfg,
		messages:  messages,
		logger:    logger.With("component", "engine"),
		now:       time.Now,
	}
}

// NewSession describes a session to open.
type NewSession struct {
	Channel     string
	ExternalID  string
	Location    string
	DeviceClass string
}

// StartSession opens a session in the WELCOME state.
func (e *Engine) StartSession(ctx context.Context, ns NewSession) (*database.Session, error) {
	session := &database.Session{
		Channel:     ns.Channel,
		ExternalID:  ns.ExternalID,
		Location:    strings.TrimSpace(ns.Location),
		DeviceClass: strings.ToLower(strings.TrimSpace(ns.DeviceClass)),
		Status:      database.StatusActive,
		FunnelState: string(funnel.StateWelcome),
	}
	if err := e.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	e.logger.InfoContext(ctx, "Session started", "session_id", session.ID, "channel", session.Channel, "device_class", session.DeviceClass)
	return session, nil
}

// ProcessTurn runs one turn. Generator, parse, gateway and storage write
// failures are recovered inside the turn; only an unknown session, empty
// input, a failed session read or cancellation are returned as errors.
func (e *Engine) ProcessTurn(ctx context.Context, sessionID string, in Input) (*Result, error) {
	if strings.TrimSpace(in.Text) == "" && len(in.Audio) == 0 {
		return nil, ErrEmptyInput
	}

	session, err := e.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	log := e.logger.With("session_id", session.ID)

	history, err := e.store.ListMessages(ctx, session.ID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.ErrorContext(ctx, "Failed to load history, continuing without it", "error", err)
		history = nil
	}

	if !in.System {
		content := strings.TrimSpace(in.Text)
		if content == "" {
			content = audioPlaceholder
		}
		e.persist(ctx, &database.Message{SessionID: session.ID, Sender: database.SenderUser, Content: content})
	}

	if session.Status == database.StatusPaused {
		log.InfoContext(ctx, "Session paused by operator, skipping generation")
		return &Result{
			Session: session,
			Reply:   funnel.Silent(funnel.State(session.FunnelState)),
			Paused:  true,
		}, nil
	}

	catalog := e.loadCatalog(ctx)
	notice := media.NoticeFor(e.messages.MediaNoticeFmt, e.tracker.Diff(session.ID, catalog))
	if notice != "" {
		log.InfoContext(ctx, "New media announced to generator")
	}

	scores := sessionScores(session)
	instruction := prompt.Build(prompt.Context{
		Script:      e.funnel.PersonaScript,
		Location:    session.Location,
		DeviceClass: session.DeviceClass,
		DisplayName: session.DisplayName,
		Scores:      &scores,
		Tier:        e.funnel.Pricing.TierFor(session.DeviceClass),
		Threshold:   e.funnel.AffinityThreshold,
		Catalog:     catalog,
	})

	reserved := text.EstimateTokens(instruction.Text) + text.EstimateTokens(in.Text)
	turns := historyTurns(e.window.Select(history, reserved))
	turns = append(turns, inputTurn(notice, in))

	reply, checks, fallback := e.generateWithChecks(ctx, session, instruction, turns)
	if err := ctx.Err(); err != nil {
		log.WarnContext(ctx, "Turn cancelled before delivery", "error", err)
		return nil, err
	}

	res := &Result{Session: session, PaymentChecks: checks, Fallback: fallback}
	resolution := e.resolver.Resolve(ctx, session, reply, catalog)
	reply = resolution.Reply
	res.Media = resolution.Media
	res.Charge = resolution.Charge

	fragments := text.SanitizeFragments(reply.Messages)
	if len(fragments) == 0 {
		log.WarnContext(ctx, "Reply had no deliverable fragments, using fallback")
		fragments = []string{e.messages.Fallback}
		res.Fallback = true
	}
	reply.Messages = fragments
	res.Reply = reply

	res.Messages = e.persistReply(ctx, session, reply, res.Media, res.Charge)

	if !res.Fallback {
		applyReply(session, reply)
	}
	session.LastActivityAt = e.now().UTC()
	if err := e.store.UpdateSession(ctx, session); err != nil {
		log.ErrorContext(ctx, "Failed to update session", "error", err)
	}

	log.InfoContext(ctx, "Turn processed",
		"state", reply.State, "action", reply.Action, "fragments", len(fragments),
		"payment_checks", checks, "fallback", res.Fallback)
	return res, nil
}

// generateWithChecks calls the generator and resolves payment-status checks
// by feeding the outcome back as a new input, at most MaxPaymentChecks times.
// Past the cap it fails closed with the pending fragment.
func (e *Engine) generateWithChecks(ctx context.Context, session *database.Session, instruction prompt.Instruction, turns []gemini.Turn) (*funnel.StructuredReply, int, bool) {
	state := funnel.State(session.FunnelState)
	scores := sessionScores(session)

	checks := 0
	for {
		reply, err := e.generate(ctx, instruction, turns)
		if err != nil {
			return funnel.Fallback(state, scores, e.messages.Fallback), checks, true
		}
		if reply.Action != funnel.ActionCheckPaymentStatus {
			return reply, checks, false
		}
		if checks >= e.funnel.MaxPaymentChecks {
			e.logger.WarnContext(ctx, "Payment check limit reached, failing closed",
				"session_id", session.ID, "checks", checks)
			return funnel.Fallback(reply.State, reply.Scores, e.messages.PaymentPending), checks, false
		}
		checks++

		feedback := e.paymentFeedback(ctx, session)
		e.logger.DebugContext(ctx, "Payment check feedback", "session_id", session.ID, "feedback", feedback)
		turns = append(turns,
			gemini.Turn{Role: gemini.RoleModel, Text: strings.Join(reply.Messages, "\n")},
			gemini.Turn{Role: gemini.RoleUser, Text: feedback},
		)
	}
}

// generate performs one bounded generator call and validates its output.
func (e *Engine) generate(ctx context.Context, instruction prompt.Instruction, turns []gemini.Turn) (*funnel.StructuredReply, error) {
	callCtx := ctx
	if e.funnel.GeneratorTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.funnel.GeneratorTimeout)
		defer cancel()
	}

	raw, err := e.generator.Generate(callCtx, gemini.Request{
		SystemInstruction: instruction.Text,
		Schema:            instruction.Schema,
		History:           turns,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			e.logger.WarnContext(ctx, "Generator timed out", "timeout", e.funnel.GeneratorTimeout)
		} else {
			e.logger.ErrorContext(ctx, "Generator call failed", "error", err)
		}
		return nil, err
	}

	reply, err := funnel.ParseReply(raw)
	if err != nil {
		e.logger.ErrorContext(ctx, "Generator returned a non-conforming reply", "error", err, "raw", raw)
		return nil, err
	}
	return reply, nil
}

// paymentFeedback queries the latest charge of the session and describes
// the outcome for the generator.
func (e *Engine) paymentFeedback(ctx context.Context, session *database.Session) string {
	msg, err := e.store.LatestChargeMessage(ctx, session.ID)
	if errors.Is(err, database.ErrNotFound) {
		return e.messages.NoChargeFeedback
	}
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to look up latest charge", "session_id", session.ID, "error", err)
		return e.messages.CheckFailedFeedback
	}

	status, err := e.gateway.Status(ctx, msg.ChargeID)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to verify charge", "charge_id", msg.ChargeID, "error", err)
		return e.messages.CheckFailedFeedback
	}

	if string(status) != msg.ChargeStatus {
		if err := e.store.UpdateChargeStatus(ctx, msg.ChargeID, string(status)); err != nil {
			e.logger.ErrorContext(ctx, "Failed to cache charge status", "charge_id", msg.ChargeID, "error", err)
		}
	}

	switch status {
	case funnel.ChargeApproved:
		return fmt.Sprintf(e.messages.ApprovedFeedback, msg.ChargeID, msg.ChargeAmount)
	case funnel.ChargePending:
		return fmt.Sprintf(e.messages.PendingFeedback, msg.ChargeID, msg.ChargeAmount)
	default:
		return fmt.Sprintf(e.messages.UnknownFeedback, msg.ChargeID, msg.ChargeAmount, status)
	}
}

// persistReply stores each fragment in order. Only the first fragment
// carries the media and the charge, which is attached by a later update.
func (e *Engine) persistReply(ctx context.Context, session *database.Session, reply *funnel.StructuredReply, asset *media.Asset, charge *funnel.Charge) []*database.Message {
	out := make([]*database.Message, 0, len(reply.Messages))
	for i, fragment := range reply.Messages {
		msg := &database.Message{
			SessionID:   session.ID,
			Sender:      database.SenderPersona,
			Content:     fragment,
			FunnelState: string(reply.State),
		}
		if i == 0 {
			msg.Reasoning = reply.Reasoning
			msg.Action = string(reply.Action)
			if asset != nil {
				msg.MediaURL = asset.URL
				msg.MediaKind = string(asset.Kind)
			}
		}
		stored := e.persist(ctx, msg)

		if i == 0 && charge != nil {
			snapshot := database.ChargeSnapshot{
				ID: charge.ID, Code: charge.Code, Amount: charge.Amount, Status: string(charge.Status),
			}
			msg.ChargeID, msg.ChargeCode, msg.ChargeAmount, msg.ChargeStatus = snapshot.ID, snapshot.Code, snapshot.Amount, snapshot.Status
			if stored {
				if err := e.store.AttachCharge(ctx, msg.ID, snapshot); err != nil {
					e.logger.ErrorContext(ctx, "Failed to attach charge to message", "message_id", msg.ID, "charge_id", charge.ID, "error", err)
				}
			}
		}
		out = append(out, msg)
	}
	return out
}

// persist inserts a message, logging failures. It reports whether the
// message was stored.
func (e *Engine) persist(ctx context.Context, msg *database.Message) bool {
	if err := e.store.InsertMessage(ctx, msg); err != nil {
		e.logger.ErrorContext(ctx, "Failed to persist message", "session_id", msg.SessionID, "sender", msg.Sender, "error", err)
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = e.now().UTC()
		}
		return false
	}
	return true
}

func (e *Engine) loadSession(ctx context.Context, sessionID string) (*database.Session, error) {
	session, err := e.store.GetSession(ctx, sessionID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	return session, nil
}

// loadCatalog fetches the current preview catalog. It is re-read on every
// turn so assets added mid-conversation are visible immediately.
func (e *Engine) loadCatalog(ctx context.Context) *media.Catalog {
	rows, err := e.store.ListMediaAssets(ctx, database.CategoryPreview)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to load media catalog", "error", err)
		return media.NewCatalog(nil)
	}
	return media.NewCatalog(rows)
}

// InjectOperatorMessage persists a message written by a human operator.
// Subscribers of the session receive it through the store's broker.
func (e *Engine) InjectOperatorMessage(ctx context.Context, sessionID, content string) (*database.Message, error) {
	clean, err := text.Sanitize(content)
	if err != nil {
		return nil, ErrEmptyInput
	}
	if _, err := e.loadSession(ctx, sessionID); err != nil {
		return nil, err
	}
	msg := &database.Message{SessionID: sessionID, Sender: database.SenderOperator, Content: clean}
	if err := e.store.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to persist operator message: %w", err)
	}
	e.logger.InfoContext(ctx, "Operator message injected", "session_id", sessionID, "message_id", msg.ID)
	return msg, nil
}

// SetStatus changes the lifecycle status of a session.
func (e *Engine) SetStatus(ctx context.Context, sessionID, status string) (*database.Session, error) {
	switch status {
	case database.StatusActive, database.StatusPaused, database.StatusClosed:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	session, err := e.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == status {
		return session, nil
	}
	session.Status = status
	if err := e.store.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to update session status: %w", err)
	}
	if status == database.StatusClosed {
		e.tracker.Forget(sessionID)
	}
	e.logger.InfoContext(ctx, "Session status changed", "session_id", sessionID, "status", status)
	return session, nil
}

func sessionScores(s *database.Session) funnel.Scores {
	return funnel.Scores{
		Arousal:       s.Arousal,
		Attachment:    s.Attachment,
		Connection:    s.Connection,
		SpendingPower: s.SpendingPower,
	}
}

// applyReply copies the generator's view of the lead onto the session.
func applyReply(s *database.Session, reply *funnel.StructuredReply) {
	s.Arousal = reply.Scores.Arousal
	s.Attachment = reply.Scores.Attachment
	s.Connection = reply.Scores.Connection
	s.SpendingPower = reply.Scores.SpendingPower
	if name := strings.TrimSpace(reply.ExtractedName); name != "" {
		s.DisplayName = name
	}
	if reply.State != "" {
		s.FunnelState = string(reply.State)
	}
}

// historyTurns maps the transcript to generator turns. Operator messages
// are spoken as the persona.
func historyTurns(history []*database.Message) []gemini.Turn {
	turns := make([]gemini.Turn, 0, len(history))
	for _, m := range history {
		role := gemini.RoleModel
		if m.Sender == database.SenderUser {
			role = gemini.RoleUser
		}
		content := m.Content
		if m.MediaKind != "" {
			content += fmt.Sprintf(" [sent %s preview]", m.MediaKind)
		}
		if m.HasCharge() {
			content += fmt.Sprintf(" [sent payment request R$ %.2f, status %s]", m.ChargeAmount, m.ChargeStatus)
		}
		turns = append(turns, gemini.Turn{Role: role, Text: content})
	}
	return turns
}

// inputTurn builds the outgoing user turn, prefixed by the media notice.
func inputTurn(notice string, in Input) gemini.Turn {
	content := strings.TrimSpace(in.Text)
	if notice != "" {
		if content == "" {
			content = notice
		} else {
			content = notice + "\n\n" + content
		}
	}
	return gemini.Turn{Role: gemini.RoleUser, Text: content, Audio: in.Audio, AudioMIME: in.AudioMIME}
}
