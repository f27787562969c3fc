package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/naperu/estatebot/internal/api"
	"github.com/naperu/estatebot/internal/bot"
	"github.com/naperu/estatebot/internal/domain"
	"github.com/naperu/estatebot/internal/notify"
	"github.com/naperu/estatebot/internal/repository"
	"github.com/naperu/estatebot/internal/repository/memory"
	"github.com/naperu/estatebot/internal/service"
	"github.com/naperu/estatebot/internal/storage"
	"github.com/naperu/estatebot/internal/telegram"
	"github.com/naperu/estatebot/internal/ws"
	"github.com/naperu/estatebot/pkg/cache"
	"github.com/naperu/estatebot/pkg/config"
	"github.com/naperu/estatebot/pkg/database"
	"github.com/naperu/estatebot/pkg/logger"
	"github.com/sirupsen/logrus"
)

// stores is the set of persistence ports, whichever backend provides them.
type stores struct {
	account      domain.AccountStore
	staff        domain.StaffStore
	agent        domain.AgentStore
	group        domain.GroupStore
	adminChannel domain.AdminChannelStore
	lead         domain.LeadStore
	wizard       domain.WizardStore
	close        func()
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	base, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.Component(base, "main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to open stores")
	}
	defer st.close()

	// Initialize storage (MinIO)
	var media domain.MediaStore
	if cfg.StoreBackend != "memory" && cfg.MinioEndpoint != "" {
		store, err := storage.New(ctx, storage.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			Prefix:    cfg.MediaPrefix,
		})
		if err != nil {
			if cfg.IsProduction() {
				log.WithError(err).Fatal("failed to initialize storage")
			}
			log.WithError(err).Warn("storage unavailable, keeping media in memory")
		} else {
			media = store
			log.WithField("endpoint", cfg.MinioEndpoint).Info("MinIO storage initialized")
		}
	}
	if media == nil {
		media = memory.NewMediaStore()
	}

	// Initialize Redis cache
	var statsCache service.Cache
	if cfg.RedisURL != "" {
		redisCache, err := cache.New(cfg.RedisURL, "estatebot:")
		if err != nil {
			log.WithError(err).Warn("redis unavailable, caching disabled")
		} else {
			defer redisCache.Close()
			statsCache = redisCache
			log.Info("Redis cache initialized")
		}
	}

	// Initialize WebSocket hub
	hub := ws.NewHub(logger.Component(base, "ws"))
	go hub.Run(ctx)

	sessions := telegram.NewSessionManager(
		telegram.NewMTProtoDialer(logger.Component(base, "mtproto")),
		st.account, cfg.LoginTimeout, logger.Component(base, "sessions"),
	)
	sessions.SetStatusBroadcaster(hub)
	defer sessions.Shutdown()
	if n, err := sessions.LoadActive(ctx); err != nil {
		log.WithError(err).Warn("failed to load linked accounts")
	} else {
		log.WithField("live", n).Info("linked accounts connected")
	}

	botClient, err := telegram.NewBotClient(cfg.BotToken, cfg.BotDebug, logger.Component(base, "telegram"))
	if err != nil {
		log.WithError(err).Fatal("failed to start bot client")
	}

	dispatcher := notify.NewDispatcher(botClient, notify.Stores{
		AdminChannel: st.adminChannel,
		Group:        st.group,
		Agent:        st.agent,
		Lead:         st.lead,
		Media:        media,
	}, logger.Component(base, "notify"), hub)
	if cfg.AMQPURL != "" {
		publisher, err := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger.Component(base, "amqp"))
		if err != nil {
			log.WithError(err).Warn("event bus unavailable, continuing without it")
		} else {
			defer publisher.Close()
			dispatcher.AddSink(publisher)
		}
	}

	services := service.NewServices(service.Deps{
		Staff:              st.staff,
		Agent:              st.agent,
		Group:              st.group,
		Lead:               st.lead,
		Accounts:           st.account,
		Sessions:           sessions,
		Notifier:           dispatcher,
		Cache:              statsCache,
		IsBootstrapManager: cfg.IsBootstrapManager,
		Log:                logger.Component(base, "service"),
	})

	router := bot.New(bot.Deps{
		Bot:           botClient,
		Services:      services,
		Sessions:      sessions,
		Importer:      telegram.NewImporter(media, cfg.HistoryPageSize, logger.Component(base, "history")),
		Groups:        st.group,
		Wizards:       st.wizard,
		Media:         media,
		JWTSecret:     cfg.JWTSecret,
		WizardTTL:     cfg.WizardTTL,
		AlbumDebounce: cfg.AlbumDebounce,
		Log:           logger.Component(base, "bot"),
	})
	botDone := make(chan struct{})
	go func() {
		defer close(botDone)
		router.Run(ctx, botClient.Updates(ctx))
	}()

	go sweepWizards(ctx, st.wizard, cfg.WizardSweepInterval, logger.Component(base, "janitor"))

	server := api.NewServer(cfg, services, hub, media, logger.Component(base, "api"))
	go func() {
		<-ctx.Done()
		log.Info("shutting down server...")
		if err := server.Shutdown(); err != nil {
			log.WithError(err).Error("server shutdown error")
		}
	}()

	log.WithField("port", cfg.Port).Info("EstateBot server starting")
	if err := server.Listen(":" + cfg.Port); err != nil {
		log.WithError(err).Error("server error")
		stop()
	}
	<-botDone
}

func openStores(cfg *config.Config) (*stores, error) {
	if cfg.StoreBackend == "memory" {
		m := memory.New()
		return &stores{
			account:      m.Account,
			staff:        m.Staff,
			agent:        m.Agent,
			group:        m.Group,
			adminChannel: m.AdminChannel,
			lead:         m.Lead,
			wizard:       m.Wizard,
			close:        func() {},
		}, nil
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	repos := repository.NewRepositories(db)
	return &stores{
		account:      repos.Account,
		staff:        repos.Staff,
		agent:        repos.Agent,
		group:        repos.Group,
		adminChannel: repos.AdminChannel,
		lead:         repos.Lead,
		wizard:       repos.Wizard,
		close:        db.Close,
	}, nil
}

// sweepWizards removes expired wizard rows until ctx is done.
func sweepWizards(ctx context.Context, wizards domain.WizardStore, every time.Duration, log *logrus.Entry) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := wizards.DeleteExpired(ctx, now)
			if err != nil {
				log.WithError(err).Warn("failed to sweep wizards")
				continue
			}
			if n > 0 {
				log.WithField("removed", n).Debug("expired wizards swept")
			}
		}
	}
}
