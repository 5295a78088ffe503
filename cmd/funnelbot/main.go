// Package main contains the entrypoint for the funnel bot: the Telegram
// channel, the operator/web API and the scheduled tasks.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/joho/godotenv"

	"github.com/edgard/funnelbot/internal/action"
	"github.com/edgard/funnelbot/internal/api"
	"github.com/edgard/funnelbot/internal/bot"
	"github.com/edgard/funnelbot/internal/bot/handlers"
	"github.com/edgard/funnelbot/internal/bot/tasks"
	"github.com/edgard/funnelbot/internal/config"
	"github.com/edgard/funnelbot/internal/database"
	"github.com/edgard/funnelbot/internal/delivery"
	"github.com/edgard/funnelbot/internal/engine"
	"github.com/edgard/funnelbot/internal/gemini"
	"github.com/edgard/funnelbot/internal/logger"
	"github.com/edgard/funnelbot/internal/media"
	"github.com/edgard/funnelbot/internal/payment"
	"github.com/edgard/funnelbot/internal/queue"
	"github.com/edgard/funnelbot/internal/telegram"
	"github.com/edgard/funnelbot/internal/text"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes and starts all application components and returns an
// exit code (0 for success, 1 for failure).
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	gemClient, err := gemini.NewClient(ctx, cfg.Gemini, log)
	if err != nil {
		log.Error("Failed to initialize Gemini client", "error", err)
		return 1
	}

	gateway := payment.NewHTTPClient(cfg.Payment, log)
	resolver := action.NewResolver(gateway, action.Config{
		Pricing:          cfg.Funnel.Pricing,
		MediaUnavailable: cfg.Messages.MediaUnavailable,
		PaymentFailed:    cfg.Messages.PaymentFailed,
		PayerName:        cfg.Payment.PayerName,
		PayerEmail:       cfg.Payment.PayerEmail,
	}, log)

	eng := engine.New(engine.Deps{
		Store:     store,
		Generator: gemClient,
		Gateway:   gateway,
		Resolver:  resolver,
		Tracker:   media.NewTracker(),
		Window:    text.NewWindow(cfg.Funnel.HistoryMaxTokens, text.CountTokens, log),
		Logger:    log,
	}, cfg.Funnel, cfg.Messages)

	turns := queue.New(ctx, cfg.Queue.MaxConcurrent, cfg.Queue.MaxPending, log)
	pacing := delivery.NewScheduler(delivery.NewTiming(cfg.Delivery, nil), nil, log)

	var (
		tg           *tgbot.Bot
		conversation *telegram.Conversation
	)
	if cfg.Telegram.Enabled {
		// Updates only flow once the listener starts, by which time chat is set.
		var chat tgbot.HandlerFunc
		tg, err = telegram.NewTelegramBot(cfg.Telegram.Token, log,
			tgbot.WithMiddlewares(logger.Middleware(log)),
			tgbot.WithDefaultHandler(func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
				chat(ctx, b, update)
			}),
		)
		if err != nil {
			log.Error("Failed to create Telegram bot", "error", err)
			return 1
		}

		cfg.Telegram.BotInfo, err = tg.GetMe(ctx)
		if err != nil {
			log.Error("Failed to get bot info", "error", err)
			return 1
		}
		log.Info("Retrieved bot info", "bot_id", cfg.Telegram.BotInfo.ID, "bot_username", cfg.Telegram.BotInfo.Username)

		conversation = telegram.NewConversation(eng, store, turns, pacing, tg, cfg.Telegram, cfg.Messages, log)
		hDeps := handlers.HandlerDeps{
			Logger:       log,
			Config:       cfg,
			Store:        store,
			Engine:       eng,
			Conversation: conversation,
		}
		chat = handlers.NewChatHandler(hDeps)
		if err := handlers.Register(tg, log, handlers.RegisterAllCommands(hDeps)); err != nil {
			log.Error("Failed to register Telegram handlers", "error", err)
			return 1
		}
	}

	var httpHandler http.Handler
	if cfg.HTTP.Enabled {
		httpHandler = api.NewHandler(api.Deps{
			Engine:   eng,
			Store:    store,
			Queue:    turns,
			Delivery: pacing,
			Logger:   log,
		}, cfg.HTTP, cfg.Realtime).Router()
	}

	if tg == nil && httpHandler == nil {
		log.Error("Neither the Telegram channel nor the HTTP API is enabled")
		return 1
	}

	sched, err := bot.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tasks.TaskDeps{
		Logger:       log,
		Store:        store,
		Gateway:      gateway,
		Conversation: conversation,
		Config:       cfg,
	}))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}
	app := bot.NewBot(log, cfg, tg, httpHandler, sched, turns)

	log.Info("Starting bot...")
	runErr := app.Run(ctx)
	log.Info("Bot run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Bot stopped due to error", "error", runErr)
		// Allow logs to flush before exiting on error
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Bot stopped gracefully.")
	return 0
}
