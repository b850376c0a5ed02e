package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	mqcontracts "mailpilot/contracts/mq"
	"mailpilot/internal/agentclient"
	appconfig "mailpilot/internal/config"
	"mailpilot/internal/httpserver"
	"mailpilot/internal/mailbox"
	"mailpilot/internal/model"
	"mailpilot/internal/mqhandler"
	"mailpilot/internal/orchestrator"
	"mailpilot/internal/query"
	"mailpilot/internal/repository"
	"mailpilot/internal/responder"
	"mailpilot/internal/router"
	"mailpilot/internal/searchstore"
	"mailpilot/pkg/config"
	"mailpilot/pkg/db"
	"mailpilot/pkg/lock"
	"mailpilot/pkg/logger"
	"mailpilot/pkg/mq"
	"mailpilot/pkg/outbox"
	"mailpilot/pkg/redis"
	"mailpilot/pkg/util"
)

type recordStore interface {
	query.RecordStore
	query.RecordWriter
}

func main() {
	cfg, err := appconfig.Load(config.GetConfigEnv(), config.GetEnv("CONFIG_DIR", "config"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl := logger.NewLogger(cfg.Log.Level)
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zl.Info("Starting mailpilot worker...")
	if err := run(ctx, cfg, zl); err != nil {
		zl.Fatal("Worker stopped with error", zap.Error(err))
	}
	zl.Info("mailpilot worker shutdown complete")
}

func run(ctx context.Context, cfg *appconfig.Config, zl *zap.Logger) error {
	pool, err := db.NewConnection(ctx, cfg.DB, zl)
	if err != nil {
		return fmt.Errorf("db connection: %w", err)
	}
	defer pool.Close()

	rdb, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	publisher, err := mq.NewPublisher(cfg.MQ.URL, "mailpilot-worker")
	if err != nil {
		return fmt.Errorf("mq publisher: %w", err)
	}
	defer publisher.Close()

	checks := map[string]httpserver.Check{
		"postgres": pool.Ping,
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		"rabbitmq": func(context.Context) error {
			if !publisher.IsConnected() {
				return fmt.Errorf("publisher connection closed")
			}
			return nil
		},
	}

	schema := cfg.QuerySchema()
	var store recordStore
	switch cfg.Query.StoreDriver {
	case appconfig.StoreDriverElasticsearch:
		es, err := searchstore.NewClient(cfg.Elasticsearch)
		if err != nil {
			return err
		}
		esStore := searchstore.New(es, cfg.Elasticsearch.Index, schema)
		if err := esStore.Ping(ctx); err != nil {
			return err
		}
		checks["elasticsearch"] = esStore.Ping
		store = esStore
	default:
		store = repository.NewRecordRepository(pool, schema)
	}
	zl.Info("Record store ready", zap.String("driver", cfg.Query.StoreDriver))

	outboxRepo := outbox.NewRepository(pool)
	actionRecords := repository.NewActionRecordRepository(pool, outboxRepo)
	correspondents := repository.NewCorrespondentRepository(pool)
	reminders := repository.NewReminderRepository(pool)

	for _, c := range cfg.Correspondents {
		if err := correspondents.Upsert(ctx, c.Email, c.Name, model.ParseSenderTrust(c.Trust)); err != nil {
			return fmt.Errorf("seed correspondent %s: %w", c.Email, err)
		}
	}

	agent := agentclient.New(cfg.Agent)
	checks["agent"] = agent.Ready

	sender, err := replySender(ctx, cfg, publisher)
	if err != nil {
		return err
	}

	registry, err := buildRegistry(cfg, agent, store)
	if err != nil {
		return err
	}

	opts := []orchestrator.Option{
		orchestrator.WithTrustLookup(correspondents),
		orchestrator.WithReminders(reminders),
		orchestrator.WithLogger(zl),
	}
	if cfg.Lock.Distributed {
		opts = append(opts, orchestrator.WithLocker(lock.NewRedisLocker(rdb, "", cfg.Lock.TTL)))
	}
	orch := orchestrator.New(agent, responder.NewGenerator(cfg.Policy.ToolTimeout, zl), sender, actionRecords, opts...)

	querySvc := query.NewService(
		query.NewTranslator(agent, cfg.Query.MaxLimit),
		query.NewExecutor(store, schema, cfg.Query.Retry, zl),
		schema,
		zl,
	)

	dispatcher := router.New(orch, querySvc, sender, router.Config{
		Prefixes:          cfg.Directives.Prefixes,
		AuthorizedSenders: cfg.Directives.AuthorizedSenders,
		Orchestration: orchestrator.Config{
			Thresholds:      cfg.Policy.Thresholds,
			Registry:        registry,
			SendFloor:       cfg.Policy.SendFloor,
			ClassifyTimeout: cfg.Policy.ClassifyTimeout,
		},
	},
		router.WithTrustLookup(correspondents),
		router.WithHistory(store),
		router.WithLogger(zl),
	)

	outboxDispatcher := outbox.NewDispatcher(outboxRepo, publisher, zl).
		WithMaxRetries(cfg.Outbox.MaxRetries).
		WithInterval(cfg.Outbox.Interval).
		WithBatchSize(cfg.Outbox.BatchSize)

	admin := httpserver.NewRouter(httpserver.Deps{
		Checks:   checks,
		History:  actionRecords,
		Answerer: querySvc,
		Replayer: outbox.NewReplayService(outboxRepo, publisher, zl),
		Logger:   zl,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return admin.Run(gctx, cfg.Server.Port)
	})

	g.Go(func() error {
		outboxDispatcher.Start(gctx)
		return nil
	})

	if cfg.Mailbox.BaseURL != "" {
		poller := mailbox.NewPoller(
			mailbox.NewHTTPFetcher(cfg.Mailbox.BaseURL, cfg.Mailbox.Timeout),
			dispatcher.Handle,
			mailbox.PollerConfig{
				Interval:    cfg.Mailbox.PollInterval,
				Concurrency: cfg.Mailbox.Concurrency,
				Retry:       cfg.Mailbox.Retry,
			},
			zl,
		)
		g.Go(func() error {
			return poller.Run(gctx)
		})
	}

	if cfg.Consumer.Enabled {
		consumer, err := mq.NewConsumer(cfg.MQ.URL, cfg.Consumer.Queue, mqcontracts.RoutingKeyEmailReceived, cfg.Consumer.Prefetch, zl)
		if err != nil {
			return fmt.Errorf("email.received consumer: %w", err)
		}
		defer consumer.Close()

		handler := mqhandler.NewEmailReceivedHandler(
			dispatcher.Handle,
			util.NewDeduper(rdb, 24*time.Hour, zl),
			util.NewRetryCounter(rdb, 24*time.Hour),
			publisher,
			cfg.Consumer.MaxRetries,
			zl,
		)
		consumer.SetHandler(handler.Handle)
		g.Go(func() error {
			return consumer.Start(gctx)
		})
	}

	zl.Info("Worker running",
		zap.String("admin_addr", cfg.Server.Port),
		zap.Bool("poller", cfg.Mailbox.BaseURL != ""),
		zap.Bool("consumer", cfg.Consumer.Enabled),
		zap.String("reply_transport", cfg.Reply.Transport),
	)
	return g.Wait()
}

func replySender(ctx context.Context, cfg *appconfig.Config, publisher *mq.Publisher) (orchestrator.ReplySender, error) {
	if cfg.Reply.Transport == appconfig.ReplyTransportSES {
		return mailbox.NewSESReplySenderFromRegion(ctx, cfg.AWS.Region, cfg.AWS.FromEmail)
	}
	return mailbox.NewMQReplySender(publisher), nil
}

// buildRegistry registers the reply tools in priority order: canned
// templates, model drafts, then drafts grounded on past correspondence.
func buildRegistry(cfg *appconfig.Config, agent *agentclient.Client, store query.RecordStore) (*responder.Registry, error) {
	var tools []responder.Tool

	if len(cfg.Policy.Templates) > 0 {
		templates := make(map[model.Category]string, len(cfg.Policy.Templates))
		for label, text := range cfg.Policy.Templates {
			c, err := model.ParseCategory(label)
			if err != nil {
				return nil, fmt.Errorf("policy.templates: %w", err)
			}
			templates[c] = text
		}
		tt, err := responder.NewTemplateTool("template", templates, cfg.Policy.TemplateConfidence)
		if err != nil {
			return nil, err
		}
		tools = append(tools, tt)
	}

	tools = append(tools,
		responder.NewDraftTool("draft", agent, cfg.Policy.DraftWeight),
		responder.NewRecordContextTool("history", store, agent,
			"communications", "sender", []string{"subject", "disposition", "received_at"},
			model.CategoryFollowUp, model.CategoryMeetingRequest, model.CategoryFeedback),
	)
	return responder.NewRegistry(tools...)
}
