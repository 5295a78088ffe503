package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/funnelbot/internal/action"
	"github.com/edgard/funnelbot/internal/config"
	"github.com/edgard/funnelbot/internal/database"
	"github.com/edgard/funnelbot/internal/delivery"
	"github.com/edgard/funnelbot/internal/engine"
	"github.com/edgard/funnelbot/internal/funnel"
	"github.com/edgard/funnelbot/internal/gemini"
	"github.com/edgard/funnelbot/internal/payment"
	"github.com/edgard/funnelbot/internal/queue"
	"github.com/edgard/funnelbot/internal/telegram"
	"github.com/edgard/funnelbot/internal/text"
)

type fakeGateway struct {
	mu       sync.Mutex
	statuses map[string]funnel.ChargeStatus
	queried  []string
}

func (g *fakeGateway) Create(context.Context, payment.CreateRequest) (*funnel.Charge, error) {
	return nil, errors.New("unused")
}

func (g *fakeGateway) Status(_ context.Context, id string) (funnel.ChargeStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queried = append(g.queried, id)
	status, ok := g.statuses[id]
	if !ok {
		return "", payment.ErrGateway
	}
	return status, nil
}

type fakeSender struct {
	mu    sync.Mutex
	texts map[int64][]string
}

func (f *fakeSender) SendMessage(_ context.Context, p *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.texts == nil {
		f.texts = map[int64][]string{}
	}
	id := p.ChatID.(int64)
	f.texts[id] = append(f.texts[id], p.Text)
	return &models.Message{}, nil
}

func (f *fakeSender) SendChatAction(context.Context, *bot.SendChatActionParams) (bool, error) {
	return true, nil
}

func (f *fakeSender) SendPhoto(context.Context, *bot.SendPhotoParams) (*models.Message, error) {
	return &models.Message{}, nil
}

func (f *fakeSender) SendVideo(context.Context, *bot.SendVideoParams) (*models.Message, error) {
	return &models.Message{}, nil
}

func (f *fakeSender) SendAudio(context.Context, *bot.SendAudioParams) (*models.Message, error) {
	return &models.Message{}, nil
}

type recordingGenerator struct {
	mu     sync.Mutex
	inputs []string
}

func (g *recordingGenerator) Generate(_ context.Context, req gemini.Request) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inputs = append(g.inputs, req.History[len(req.History)-1].Text)
	out, _ := json.Marshal(funnel.StructuredReply{
		LeadClass: funnel.LeadWarm, State: funnel.StateReactivation,
		Messages: []string{"sumiu amor?"}, Action: funnel.ActionNone,
	})
	return string(out), nil
}

func newStore(t *testing.T) database.Store {
	t.Helper()
	db, err := database.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })
	return database.NewStore(db, nil)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegisterAllTasks(t *testing.T) {
	tasks := RegisterAllTasks(TaskDeps{Logger: discard()})
	assert.Len(t, tasks, 3)
	for _, name := range []string{"sql_maintenance", "payment_reconcile", "reactivation"} {
		assert.Contains(t, tasks, name)
	}
}

func TestCompactTask(t *testing.T) {
	task := newCompactTask(TaskDeps{Logger: discard(), Store: newStore(t)})
	assert.NoError(t, task(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, task(ctx), context.Canceled)
}

func insertCharge(t *testing.T, store database.Store, sessionID, chargeID string) *database.Message {
	t.Helper()
	ctx := context.Background()
	msg := &database.Message{SessionID: sessionID, Sender: database.SenderPersona, Content: "paga ai"}
	require.NoError(t, store.InsertMessage(ctx, msg))
	require.NoError(t, store.AttachCharge(ctx, msg.ID, database.ChargeSnapshot{
		ID: chargeID, Code: "pix-" + chargeID, Amount: 35, Status: string(funnel.ChargePending),
	}))
	return msg
}

func TestPaymentReconcile(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	session := &database.Session{}
	require.NoError(t, store.CreateSession(ctx, session))
	insertCharge(t, store, session.ID, "paid")
	insertCharge(t, store, session.ID, "paid")
	insertCharge(t, store, session.ID, "waiting")
	insertCharge(t, store, session.ID, "broken")

	gw := &fakeGateway{statuses: map[string]funnel.ChargeStatus{
		"paid":    funnel.ChargeApproved,
		"waiting": funnel.ChargePending,
	}}
	task := newPaymentReconcileTask(TaskDeps{Logger: discard(), Store: store, Gateway: gw})
	require.NoError(t, task(ctx))

	assert.ElementsMatch(t, []string{"paid", "waiting", "broken"}, gw.queried)

	pending, err := store.ListPendingCharges(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	var ids []string
	for _, m := range pending {
		ids = append(ids, m.ChargeID)
	}
	assert.ElementsMatch(t, []string{"waiting", "broken"}, ids)
}

func TestReactivation(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	gen := &recordingGenerator{}
	fcfg := config.FunnelConfig{
		PersonaScript:     "You are Luna.",
		GeneratorTimeout:  time.Second,
		ReactivationAfter: time.Hour,
		ReactivationBatch: 10,
		ReactivationInput: "[SYSTEM] bring them back",
	}
	messages := config.MessagesConfig{Fallback: "conexao ruim", MediaNoticeFmt: "%s", PaymentCodeFmt: "%v %s"}
	eng := engine.New(engine.Deps{
		Store:     store,
		Generator: gen,
		Gateway:   &fakeGateway{},
		Resolver:  action.NewResolver(&fakeGateway{}, action.Config{}, nil),
		Window:    text.NewWindow(0, text.EstimateTokens, nil),
	}, fcfg, messages)

	q := queue.New(ctx, 1, 2, nil)
	t.Cleanup(q.Stop)
	timing := delivery.NewTiming(config.DeliveryConfig{ReadingWPM: 250, TypingCPS: 3.5}, nil)
	instant := func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	sender := &fakeSender{}
	conv := telegram.NewConversation(eng, store, q, delivery.NewScheduler(timing, instant, nil), sender,
		config.TelegramConfig{TypingInterval: time.Second}, messages, nil)

	stale := time.Now().UTC().Add(-2 * time.Hour)
	idleTelegram, err := conv.SessionFor(ctx, 808, "")
	require.NoError(t, err)
	idleTelegram.LastActivityAt = stale
	require.NoError(t, store.UpdateSession(ctx, idleTelegram))

	idleWeb := &database.Session{Channel: database.ChannelWeb}
	require.NoError(t, store.CreateSession(ctx, idleWeb))
	idleWeb.LastActivityAt = stale
	require.NoError(t, store.UpdateSession(ctx, idleWeb))

	_, err = conv.SessionFor(ctx, 909, "")
	require.NoError(t, err)

	task := newReactivationTask(TaskDeps{
		Logger:       discard(),
		Store:        store,
		Conversation: conv,
		Config:       &config.Config{Funnel: fcfg},
	})
	require.NoError(t, task(ctx))

	assert.Equal(t, []string{"sumiu amor?"}, sender.texts[808])
	assert.Empty(t, sender.texts[909])
	assert.Equal(t, []string{"[SYSTEM] bring them back"}, gen.inputs)

	msgs, err := store.ListMessages(ctx, idleTelegram.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, database.SenderPersona, msgs[0].Sender)

	got, err := store.GetSession(ctx, idleTelegram.ID)
	require.NoError(t, err)
	assert.True(t, got.LastActivityAt.After(stale))
	assert.Equal(t, string(funnel.StateReactivation), got.FunnelState)

	// A second quiet period without any user reply gets no further nudge.
	got.LastActivityAt = stale
	require.NoError(t, store.UpdateSession(ctx, got))
	require.NoError(t, task(ctx))
	assert.Equal(t, []string{"sumiu amor?"}, sender.texts[808])
	assert.Len(t, gen.inputs, 1)

	// Once the user writes, the session becomes eligible again.
	require.NoError(t, store.InsertMessage(ctx, &database.Message{SessionID: got.ID, Sender: database.SenderUser, Content: "voltei"}))
	got, err = store.GetSession(ctx, idleTelegram.ID)
	require.NoError(t, err)
	got.LastActivityAt = stale
	require.NoError(t, store.UpdateSession(ctx, got))
	require.NoError(t, task(ctx))
	assert.Equal(t, []string{"sumiu amor?", "sumiu amor?"}, sender.texts[808])
	assert.Len(t, gen.inputs, 2)
}

func TestReactivation_SkipsWithoutTelegram(t *testing.T) {
	task := newReactivationTask(TaskDeps{Logger: discard()})
	assert.NoError(t, task(context.Background()))
}
