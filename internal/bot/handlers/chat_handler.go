package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/funnelbot/internal/database"
	"github.com/edgard/funnelbot/internal/engine"
	"github.com/edgard/funnelbot/internal/queue"
)

const (
	voiceDownloadTimeout = 30 * time.Second
	maxVoiceSize         = 10 * 1024 * 1024
	sendMessageTimeout   = 10 * time.Second
)

type chatHandler struct {
	deps HandlerDeps
}

// NewChatHandler creates the default handler: every private text or voice
// message from a lead becomes a turn of the chat's session.
func NewChatHandler(deps HandlerDeps) bot.HandlerFunc {
	return chatHandler{deps}.Handle
}

func (h chatHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "chat")

	msg := update.Message
	if msg == nil || msg.From == nil {
		log.DebugContext(ctx, "Ignoring update without message or sender", "update_id", update.ID)
		return
	}
	if msg.Chat.Type != models.ChatTypePrivate {
		log.DebugContext(ctx, "Ignoring non-private chat", "chat_id", msg.Chat.ID, "chat_type", msg.Chat.Type)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = strings.TrimSpace(msg.Caption)
	}
	if strings.HasPrefix(text, "/") {
		log.DebugContext(ctx, "Ignoring unknown command", "chat_id", msg.Chat.ID, "command", text)
		return
	}

	in := engine.Input{Text: text}
	if msg.Voice != nil {
		audio, mime, err := h.downloadVoice(ctx, b, msg.Voice)
		if err != nil {
			log.ErrorContext(ctx, "Failed to download voice message", "chat_id", msg.Chat.ID, "error", err)
		} else {
			in.Audio, in.AudioMIME = audio, mime
		}
	}
	if in.Text == "" && len(in.Audio) == 0 {
		log.DebugContext(ctx, "Ignoring message without text or audio", "chat_id", msg.Chat.ID, "message_id", msg.ID)
		return
	}

	session, err := h.deps.Conversation.SessionFor(ctx, msg.Chat.ID, displayName(msg.From))
	if err != nil {
		log.ErrorContext(ctx, "Failed to resolve session", "chat_id", msg.Chat.ID, "error", err)
		reply(ctx, b, log, msg.Chat.ID, h.deps.Config.Messages.ErrorGeneralMsg)
		return
	}

	startTurn(ctx, h.deps, session, in)
}

// downloadVoice fetches a voice note through the Bot API file endpoint.
func (h chatHandler) downloadVoice(ctx context.Context, b *bot.Bot, voice *models.Voice) ([]byte, string, error) {
	downloadCtx, cancel := context.WithTimeout(ctx, voiceDownloadTimeout)
	defer cancel()

	file, err := b.GetFile(downloadCtx, &bot.GetFileParams{FileID: voice.FileID})
	if err != nil {
		return nil, "", fmt.Errorf("failed to get file info from Telegram: %w", err)
	}
	if file.FilePath == "" {
		return nil, "", fmt.Errorf("empty file path returned from Telegram for file ID %s", voice.FileID)
	}

	req, err := http.NewRequestWithContext(downloadCtx, http.MethodGet, b.FileDownloadLink(file), nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download voice file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, "", fmt.Errorf("unexpected status code %d downloading voice file: %s", resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxVoiceSize))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read voice file: %w", err)
	}
	if len(data) == 0 {
		return nil, "", errors.New("received empty voice file")
	}

	mime := voice.MimeType
	if mime == "" {
		mime = "audio/ogg"
	}
	return data, mime, nil
}

// startTurn takes the turn's place in the session lane before returning, so
// turns keep the order updates arrived in. Processing and paced delivery are
// awaited outside the update handler and never hold up other chats.
func startTurn(ctx context.Context, deps HandlerDeps, session *database.Session, in engine.Input) {
	log := deps.Logger.With("session_id", session.ID)
	done, err := deps.Conversation.Enqueue(session, in)
	if err != nil {
		log.ErrorContext(ctx, "Failed to enqueue turn", "error", err)
		return
	}
	go func() {
		select {
		case err := <-done:
			logTurnResult(ctx, log, err)
		case <-ctx.Done():
		}
	}()
}

func logTurnResult(ctx context.Context, log *slog.Logger, err error) {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, queue.ErrQueueFull):
		log.WarnContext(ctx, "Dropping message, session queue full")
	default:
		log.ErrorContext(ctx, "Turn failed", "error", err)
	}
}

func reply(ctx context.Context, b *bot.Bot, log *slog.Logger, chatID int64, text string) {
	sendCtx, cancel := context.WithTimeout(ctx, sendMessageTimeout)
	defer cancel()
	if _, err := b.SendMessage(sendCtx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		log.ErrorContext(ctx, "Failed to send message", "chat_id", chatID, "error", err)
	}
}

func displayName(u *models.User) string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" && u.Username != "" {
		name = "@" + u.Username
	}
	return name
}
