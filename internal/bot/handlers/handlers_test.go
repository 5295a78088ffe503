package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbot "github.com/go-telegram/bot"
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

const adminID = 99

type sentMessage struct {
	ChatID string
	Text   string
}

// apiServer fakes the Bot API and records sendMessage calls.
type apiServer struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (s *apiServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/sendMessage") {
		msg := sentMessage{ChatID: r.FormValue("chat_id"), Text: r.FormValue("text")}
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			var body struct {
				ChatID json.Number `json:"chat_id"`
				Text   string      `json:"text"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			msg = sentMessage{ChatID: body.ChatID.String(), Text: body.Text}
		}
		s.mu.Lock()
		s.sent = append(s.sent, msg)
		s.mu.Unlock()
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":1,"type":"private"}}}`)
}

func (s *apiServer) Sent() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

type staticGenerator struct{}

func (staticGenerator) Generate(context.Context, gemini.Request) (string, error) {
	out, _ := json.Marshal(funnel.StructuredReply{
		LeadClass: funnel.LeadWarm, State: funnel.StateConnection,
		Messages: []string{"Oiii"}, Action: funnel.ActionNone,
	})
	return string(out), nil
}

type nopGateway struct{}

func (nopGateway) Create(context.Context, payment.CreateRequest) (*funnel.Charge, error) {
	return nil, errors.New("unused")
}

func (nopGateway) Status(context.Context, string) (funnel.ChargeStatus, error) {
	return funnel.ChargePending, nil
}

type fixture struct {
	deps  HandlerDeps
	bot   *tgbot.Bot
	api   *apiServer
	store database.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	api := &apiServer{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	b, err := tgbot.New("123:test", tgbot.WithSkipGetMe(), tgbot.WithServerURL(srv.URL))
	require.NoError(t, err)

	db, err := database.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })
	store := database.NewStore(db, nil)

	cfg := &config.Config{
		Telegram: config.TelegramConfig{AdminUserID: adminID, TypingInterval: time.Second},
		Funnel:   config.FunnelConfig{PersonaScript: "You are Luna.", GeneratorTimeout: time.Second},
		Messages: config.MessagesConfig{
			Fallback:          "conexao ruim",
			MediaNoticeFmt:    "%s",
			PaymentCodeFmt:    "%v %s",
			ErrorGeneralMsg:   "erro",
			ErrorUnauthorized: "negado",
			SessionsHeader:    "sessoes:",
			SessionsEmpty:     "nenhuma",
			StatusChangedFmt:  "%s agora %s",
			SayUsage:          "uso: /say",
			SessionIDUsage:    "uso: /%s <id>",
			SessionNotFound:   "nao encontrada",
			MediaHeader:       "midias:",
			MediaEmpty:        "vazio",
			OperatorSent:      "enviado",
			StartInput:        "[SYSTEM] greet",
		},
	}

	eng := engine.New(engine.Deps{
		Store:     store,
		Generator: staticGenerator{},
		Gateway:   nopGateway{},
		Resolver:  action.NewResolver(nopGateway{}, action.Config{}, nil),
		Window:    text.NewWindow(0, text.EstimateTokens, nil),
	}, cfg.Funnel, cfg.Messages)

	q := queue.New(context.Background(), 2, 4, nil)
	t.Cleanup(q.Stop)
	timing := delivery.NewTiming(config.DeliveryConfig{ReadingWPM: 250, TypingCPS: 3.5}, nil)
	instant := func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	conv := telegram.NewConversation(eng, store, q, delivery.NewScheduler(timing, instant, nil), b,
		cfg.Telegram, cfg.Messages, logger)

	return &fixture{
		deps: HandlerDeps{
			Logger:       logger,
			Config:       cfg,
			Store:        store,
			Engine:       eng,
			Conversation: conv,
		},
		bot:   b,
		api:   api,
		store: store,
	}
}

func command(from int64, text string) *models.Update {
	return &models.Update{Message: &models.Message{
		Text: text,
		Chat: models.Chat{ID: from, Type: models.ChatTypePrivate},
		From: &models.User{ID: from, FirstName: "Ana"},
	}}
}

func TestAdminOnly(t *testing.T) {
	f := newFixture(t)
	called := false
	h := AdminOnly(f.deps)(func(context.Context, *tgbot.Bot, *models.Update) { called = true })

	h(context.Background(), f.bot, command(7, "/sessions"))
	assert.False(t, called)
	require.Len(t, f.api.Sent(), 1)
	assert.Equal(t, "negado", f.api.Sent()[0].Text)

	h(context.Background(), f.bot, command(adminID, "/sessions"))
	assert.True(t, called)
}

func TestStatusHandler(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.deps.Engine.StartSession(ctx, engine.NewSession{Channel: database.ChannelWeb})
	require.NoError(t, err)

	NewStatusHandler(f.deps, "pause")(ctx, f.bot, command(adminID, "/pause "+session.ID))
	got, err := f.store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusPaused, got.Status)

	NewStatusHandler(f.deps, "resume")(ctx, f.bot, command(adminID, "/resume "+session.ID))
	got, err = f.store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusActive, got.Status)

	NewStatusHandler(f.deps, "pause")(ctx, f.bot, command(adminID, "/pause"))
	NewStatusHandler(f.deps, "pause")(ctx, f.bot, command(adminID, "/pause missing"))

	var texts []string
	for _, m := range f.api.Sent() {
		texts = append(texts, m.Text)
	}
	assert.Equal(t, []string{
		session.ID + " agora paused",
		session.ID + " agora active",
		"uso: /pause <id>",
		"nao encontrada",
	}, texts)
}

func TestSayHandler_RelaysToTelegramChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.deps.Conversation.SessionFor(ctx, 555, "Joao")
	require.NoError(t, err)

	NewSayHandler(f.deps)(ctx, f.bot, command(adminID, "/say "+session.ID+" oi, sou eu"))

	sent := f.api.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, sentMessage{ChatID: "555", Text: "oi, sou eu"}, sent[0])
	assert.Equal(t, "enviado", sent[1].Text)

	msgs, err := f.store.ListMessages(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, database.SenderOperator, msgs[0].Sender)
}

func TestSayHandler_Usage(t *testing.T) {
	f := newFixture(t)
	NewSayHandler(f.deps)(context.Background(), f.bot, command(adminID, "/say onlyid"))
	require.Len(t, f.api.Sent(), 1)
	assert.Equal(t, "uso: /say", f.api.Sent()[0].Text)
}

func TestStartHandler_GreetsLead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	NewStartHandler(f.deps)(ctx, f.bot, command(321, "/start"))

	require.Eventually(t, func() bool {
		for _, m := range f.api.Sent() {
			if m.ChatID == "321" && m.Text == "Oiii" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	session, err := f.store.GetSessionByExternalID(ctx, database.ChannelTelegram, "321")
	require.NoError(t, err)
	assert.Equal(t, "Ana", session.DisplayName)

	require.Eventually(t, func() bool {
		msgs, err := f.store.ListMessages(ctx, session.ID)
		return err == nil && len(msgs) == 1
	}, time.Second, 10*time.Millisecond)
	msgs, err := f.store.ListMessages(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, database.SenderPersona, msgs[0].Sender)
}

func TestChatHandler_IgnoresGroupsAndCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := NewChatHandler(f.deps)

	group := command(10, "oi")
	group.Message.Chat.Type = models.ChatTypeGroup
	h(ctx, f.bot, group)
	h(ctx, f.bot, command(10, "/unknown"))

	_, err := f.store.GetSessionByExternalID(ctx, database.ChannelTelegram, "10")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestChatHandler_RunsTurn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	NewChatHandler(f.deps)(ctx, f.bot, command(11, "oi linda"))

	require.Eventually(t, func() bool {
		for _, m := range f.api.Sent() {
			if m.ChatID == "11" && m.Text == "Oiii" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestChatHandler_KeepsArrivalOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := NewChatHandler(f.deps)

	sent := []string{"primeira", "segunda", "terceira", "quarta"}
	for _, text := range sent {
		h(ctx, f.bot, command(12, text))
	}

	session, err := f.store.GetSessionByExternalID(ctx, database.ChannelTelegram, "12")
	require.NoError(t, err)

	userMessages := func() []string {
		msgs, err := f.store.ListMessages(ctx, session.ID)
		if err != nil {
			return nil
		}
		var out []string
		for _, m := range msgs {
			if m.Sender == database.SenderUser {
				out = append(out, m.Content)
			}
		}
		return out
	}
	require.Eventually(t, func() bool { return len(userMessages()) == len(sent) }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, sent, userMessages())
}

func TestFormatters(t *testing.T) {
	assert.Equal(t, "nenhuma", formatSessions("h", "nenhuma", nil))
	out := formatSessions("h", "e", []*database.Session{{ID: "s1", Channel: "web", Status: "active", FunnelState: "WELCOME", Arousal: 3}})
	assert.True(t, strings.HasPrefix(out, "h\ns1 | web | - | active | WELCOME | a3 c0 n0 s0"))

	assert.Equal(t, "vazio", formatMedia("m", "vazio", nil))
	assert.Equal(t, "m\np1 [preview/image] praia (blurred)",
		formatMedia("m", "e", []*database.MediaAsset{{ID: "p1", Category: "preview", Kind: "image", Description: "praia", Blurred: true}}))

	assert.Equal(t, []string{"a", "b"}, commandArgs("/say a  b"))
	assert.Empty(t, commandArgs(""))
}

func TestRegisterAllCommands(t *testing.T) {
	f := newFixture(t)
	cmds := RegisterAllCommands(f.deps)
	for _, name := range []string{"/start", "/sessions", "/pause", "/resume", "/say", "/media"} {
		require.Contains(t, cmds, name)
	}
	assert.Empty(t, cmds["/start"].Middleware)
	assert.Len(t, cmds["/say"].Middleware, 1)
	require.NoError(t, Register(f.bot, nil, cmds))
}
