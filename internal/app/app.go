// Package app initializes and holds long-lived application services,
// acting as the dependency injection container for the harvester.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/alp82/goodwatch-monorepo-sub001/internal/api"
	gcsblob "github.com/alp82/goodwatch-monorepo-sub001/internal/blob/gcs"
	blobmemory "github.com/alp82/goodwatch-monorepo-sub001/internal/blob/memory"
	"github.com/alp82/goodwatch-monorepo-sub001/internal/catalog"
	"github.com/alp82/goodwatch-monorepo-sub001/internal/clock/system"
	"github.com/alp82/goodwatch-monorepo-sub001/internal/config"
	"github.com/alp82/goodwatch-monorepo-sub001/internal/dispatch"
	"github.com/alp82/goodwatch-monorepo-sub001/internal/id/uuid"
	ledgermemory "github.com/alp82/goodwatch-monorepo-sub001/internal/ledger/memory"
	ledgerpg "github.com/alp82/goodwatch-monorepo-sub001/internal/ledger/postgres"
	"github.com/alp82/goodwatch-monorepo-sub001/internal/metrics"
	pubmemory "github.com/alp82/goodwatch-monorepo-sub001/internal/publisher/memory"
	gcppublisher "github.com/alp82/goodwatch-monorepo-sub001/internal/publisher/pubsub"
	"github.com/alp82/goodwatch-monorepo-sub001/internal/runner"
	"github.com/alp82/goodwatch-monorepo-sub001/internal/scheduler"
	"github.com/alp82/goodwatch-monorepo-sub001/internal/source/ratings"
)

// App holds the wired service graph.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	ledgerCloser func()
	pubsubClient *pubsub.Client
	gcsClient    *storage.Client
	runner       *runner.Runner
	apiServer    *api.Server
}

// New builds the full service graph from configuration. It fails fast:
// any collaborator that cannot be constructed aborts startup with an
// explicit error instead of a half-wired service.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}
	clock := system.New()
	idGen := uuid.New()

	ledger, priorities, err := a.buildStores(ctx, clock, idGen)
	if err != nil {
		return nil, err
	}
	blobs, err := a.buildBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.buildPublisher(ctx)
	if err != nil {
		return nil, err
	}
	crawlers, err := a.buildCrawlers()
	if err != nil {
		return nil, err
	}

	selector := scheduler.NewSelector(ledger, clock, logger)
	reservations := scheduler.NewReservationManager(ledger, clock, logger)
	overlay := scheduler.NewOverlay(priorities, ledger, cfg.Scheduler.PriorityLimit, logger)
	dispatcher := dispatch.New(crawlers, reservations, blobs, publisher, clock, dispatch.Config{
		Concurrency: cfg.Scheduler.DispatchConcurrency,
		Topic:       cfg.PubSub.Topic,
		BlobPrefix:  cfg.Storage.Prefix,
	}, logger)

	var jobs []runner.SourceJob
	for name, src := range cfg.Sources {
		if !src.Enabled {
			continue
		}
		source := catalog.SourceType(name)
		if _, ok := crawlers[source]; !ok {
			return nil, fmt.Errorf("source %s is enabled but has no crawler configured", name)
		}
		jobs = append(jobs, runner.SourceJob{
			Source: source,
			Policy: scheduler.SourcePolicy{
				BatchSize:        src.BatchSize,
				Buffer:           src.Buffer(),
				StaleReadmission: src.StaleReadmission,
			},
			Interval: src.Interval(),
		})
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("no sources enabled")
	}

	a.runner = runner.New(selector, overlay, dispatcher, clock, jobs, logger)
	a.apiServer = api.NewServer(a.runner, ledger, clock, logger)
	return a, nil
}

func (a *App) buildStores(ctx context.Context, clock catalog.Clock, idGen catalog.IDGenerator) (catalog.Ledger, catalog.PriorityStore, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("no db.dsn set, using in-memory ledger")
		ledger := ledgermemory.NewLedger(clock, idGen)
		priorities := ledgermemory.NewPriorityStore(clock, a.cfg.PriorityCooldown())
		return ledger, priorities, nil
	}

	if a.cfg.DB.MigrateOnStart {
		a.logger.Info("applying ledger migrations")
		if err := ledgerpg.Migrate(a.cfg.DB.DSN); err != nil {
			return nil, nil, fmt.Errorf("migrate ledger: %w", err)
		}
	}

	store, err := ledgerpg.NewLedgerStore(ctx, ledgerpg.LedgerStoreConfig{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifeMin) * time.Minute,
	}, idGen)
	if err != nil {
		return nil, nil, fmt.Errorf("init ledger store: %w", err)
	}
	a.ledgerCloser = store.Close

	priorities, err := ledgerpg.NewPriorityStoreFrom(store, clock, a.cfg.PriorityCooldown())
	if err != nil {
		return nil, nil, fmt.Errorf("init priority store: %w", err)
	}
	return store, priorities, nil
}

func (a *App) buildBlobStore(ctx context.Context) (catalog.BlobStore, error) {
	switch a.cfg.Storage.Provider {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.gcsClient = client
		blobs, err := gcsblob.New(client, gcsblob.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		return blobs, nil
	case "noop", "":
		return blobmemory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", a.cfg.Storage.Provider)
	}
}

func (a *App) buildPublisher(ctx context.Context) (catalog.Publisher, error) {
	switch a.cfg.PubSub.Provider {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
		a.pubsubClient = client
		return gcppublisher.New(client.Publisher(a.cfg.PubSub.Topic)), nil
	case "noop", "":
		return pubmemory.New(), nil
	default:
		return nil, fmt.Errorf("unknown pubsub provider: %s", a.cfg.PubSub.Provider)
	}
}

func (a *App) buildCrawlers() (map[catalog.SourceType]catalog.SourceCrawler, error) {
	crawlers := map[catalog.SourceType]catalog.SourceCrawler{}
	if a.cfg.Crawl.RatingsBaseURL != "" {
		ratingsCrawler, err := ratings.New(ratings.Config{
			BaseURL:   a.cfg.Crawl.RatingsBaseURL,
			UserAgent: a.cfg.Crawl.UserAgent,
			Timeout:   a.cfg.CrawlTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("init ratings crawler: %w", err)
		}
		crawlers[catalog.SourceRatings] = ratingsCrawler
	}
	return crawlers, nil
}

// Run starts the scheduling loop and the HTTP server, blocking until the
// context is canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		a.logger.Info("scheduling runner started")
		a.runner.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	a.close()
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) close() {
	if a.ledgerCloser != nil {
		a.ledgerCloser()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close error", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close error", zap.Error(err))
		}
	}
}
