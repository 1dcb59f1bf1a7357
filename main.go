package main

import (
	"context"
	"flag"
	"log/slog"

	"wabridge/internal/bus"
	"wabridge/internal/cache"
	"wabridge/internal/config"
	repository "wabridge/internal/database"
	"wabridge/internal/dedup"
	"wabridge/internal/http-server/api"
	"wabridge/internal/lib/logger"
	"wabridge/internal/lib/sl"
	"wabridge/internal/service/amocrm"
	"wabridge/internal/service/relay"
	"wabridge/internal/service/whatsapp"
	"wabridge/internal/session"
)

func main() {

	configPath := flag.String("conf", "config.yml", "path to config file")
	logPath := flag.String("log", "/var/log/", "path to log file directory")
	flag.Parse()

	conf := config.MustLoad(*configPath)
	lg := logger.SetupLogger(conf.Env, *logPath)

	if conf.Telegram.Enabled {
		tgBot, err := logger.NewTelegramBot(conf.Telegram.ApiKey)
		if err != nil {
			lg.Error("failed to initialize telegram bot", sl.Err(err))
		} else {
			lg = logger.SetupTelegramHandler(lg, tgBot, conf.Telegram.AdminId, slog.LevelError)
			lg.Info("telegram alerting initialized")
		}
	}

	lg.Info("starting wabridge", slog.String("config", *configPath), slog.String("env", conf.Env))
	lg.Debug("debug messages enabled")

	redisCache, err := cache.NewRedis(conf, lg)
	if err != nil {
		lg.With(sl.Err(err)).Error("redis client")
		return
	}
	guard := dedup.NewGuard(redisCache, conf.Redis.DedupTTL)
	bindings := session.NewStore(redisCache, conf.Redis.BindingTTL)
	lg.With(slog.String("addr", conf.Redis.Addr)).Info("redis client initialized")

	db, err := repository.NewMongoClient(conf, lg)
	if err != nil {
		lg.With(sl.Err(err)).Error("mongo client")
	}
	if db != nil {
		lg.With(
			slog.String("host", conf.Mongo.Host),
			slog.String("port", conf.Mongo.Port),
			slog.String("database", conf.Mongo.Database),
		).Info("mongo client initialized")
	}

	eventBus, err := bus.New(conf, lg)
	if err != nil {
		lg.With(sl.Err(err)).Error("event bus")
		return
	}
	defer eventBus.Close()

	waClient := whatsapp.NewClient(conf, lg)
	amoClient := amocrm.NewClient(conf, lg)

	if err := amoClient.ConnectChannel(context.Background()); err != nil {
		lg.With(sl.Err(err)).Error("connect chat channel")
	} else {
		lg.With(sl.Secret("channel_id", conf.Chat.ChannelID)).Info("chat channel connected")
	}

	var conversations relay.ConversationSink
	var messages relay.MessageSink
	var templates relay.TemplateRepository
	if db != nil {
		conversations = db
		messages = db
		templates = db
	}

	resolver := relay.NewResolver(amoClient, bindings, conversations, lg)
	relayService := relay.New(resolver, amoClient, waClient, templates, messages, eventBus, lg)

	deps := api.Deps{
		Relay:      relayService,
		Account:    waClient,
		Leads:      amoClient,
		Guard:      guard,
		Subscriber: eventBus,
		Mirror:     amoClient,
	}
	if db != nil {
		deps.Statuses = db
		deps.Templates = db
	}

	// *** blocking start with http server ***
	err = api.New(conf, lg, deps)
	if err != nil {
		lg.Error("server start", sl.Err(err))
		return
	}
	lg.Error("service stopped")
}
