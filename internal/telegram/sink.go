package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/funnelbot/internal/funnel"
	"github.com/edgard/funnelbot/internal/media"
)

// Sender is the subset of the Bot API the sink uses.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error)
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error)
	SendVideo(ctx context.Context, params *bot.SendVideoParams) (*models.Message, error)
	SendAudio(ctx context.Context, params *bot.SendAudioParams) (*models.Message, error)
}

// Outbound is one reply to render on a chat.
type Outbound struct {
	Fragments []string
	Media     *media.Asset
	Charge    *funnel.Charge
}

// Sink delivers a reply to one chat. Media and the payment code follow the
// first fragment.
type Sink struct {
	sender   Sender
	chatID   int64
	out      Outbound
	codeFmt  string
	interval time.Duration
	logger   *slog.Logger

	mu         sync.Mutex
	stopTyping context.CancelFunc
	typingDone chan struct{}
}

// NewSink creates a sink for chatID. codeFmt renders the payment code from
// the charge amount and code. The typing action is refreshed every interval.
func NewSink(sender Sender, chatID int64, out Outbound, codeFmt string, interval time.Duration, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 4 * time.Second
	}
	return &Sink{
		sender:   sender,
		chatID:   chatID,
		out:      out,
		codeFmt:  codeFmt,
		interval: interval,
		logger:   logger.With("component", "telegram_sink", "chat_id", chatID),
	}
}

// SetTyping starts or stops the chat action refresh loop. Telegram has no
// explicit "stop typing"; the indicator clears once the refresh stops or a
// message arrives.
func (s *Sink) SetTyping(ctx context.Context, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !on {
		s.stopTypingLocked()
		return nil
	}
	if s.stopTyping != nil {
		return nil
	}

	s.sendTyping(ctx)

	tctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.stopTyping, s.typingDone = cancel, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-tctx.Done():
				return
			case <-ticker.C:
				s.sendTyping(tctx)
			}
		}
	}()
	return nil
}

func (s *Sink) stopTypingLocked() {
	if s.stopTyping == nil {
		return
	}
	s.stopTyping()
	<-s.typingDone
	s.stopTyping, s.typingDone = nil, nil
}

// sendTyping failures are logged only; a missing indicator never blocks delivery.
func (s *Sink) sendTyping(ctx context.Context) {
	_, err := s.sender.SendChatAction(ctx, &bot.SendChatActionParams{
		ChatID: s.chatID,
		Action: models.ChatActionTyping,
	})
	if err != nil && ctx.Err() == nil {
		s.logger.WarnContext(ctx, "Failed to send typing action", "error", err)
	}
}

// Deliver sends fragment index.
func (s *Sink) Deliver(ctx context.Context, index int) error {
	if index < 0 || index >= len(s.out.Fragments) {
		return fmt.Errorf("fragment %d out of range (%d fragments)", index, len(s.out.Fragments))
	}

	if _, err := s.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: s.chatID,
		Text:   s.out.Fragments[index],
	}); err != nil {
		return fmt.Errorf("failed to send fragment %d: %w", index, err)
	}

	if index != 0 {
		return nil
	}
	if s.out.Media != nil {
		if err := s.sendMedia(ctx, s.out.Media); err != nil {
			s.logger.ErrorContext(ctx, "Failed to send media", "media_id", s.out.Media.ID, "kind", s.out.Media.Kind, "error", err)
		}
	}
	if s.out.Charge != nil && s.out.Charge.Code != "" {
		if _, err := s.sender.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: s.chatID,
			Text:   fmt.Sprintf(s.codeFmt, s.out.Charge.Amount, s.out.Charge.Code),
		}); err != nil {
			s.logger.ErrorContext(ctx, "Failed to send payment code", "charge_id", s.out.Charge.ID, "error", err)
		}
	}
	return nil
}

func (s *Sink) sendMedia(ctx context.Context, asset *media.Asset) error {
	file := &models.InputFileString{Data: asset.URL}
	var err error
	switch asset.Kind {
	case funnel.MediaImage:
		_, err = s.sender.SendPhoto(ctx, &bot.SendPhotoParams{ChatID: s.chatID, Photo: file, HasSpoiler: asset.Blurred})
	case funnel.MediaVideo:
		_, err = s.sender.SendVideo(ctx, &bot.SendVideoParams{ChatID: s.chatID, Video: file, HasSpoiler: asset.Blurred})
	case funnel.MediaAudio:
		_, err = s.sender.SendAudio(ctx, &bot.SendAudioParams{ChatID: s.chatID, Audio: file})
	default:
		err = fmt.Errorf("unsupported media kind %q", asset.Kind)
	}
	return err
}
