package svc

import (
	"context"
	"fmt"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"xdsl/internal/application/port"
	"xdsl/internal/application/service"
	"xdsl/internal/application/usecase/monitor"
	s3blob "xdsl/internal/infrastructure/blob/s3"
	"xdsl/internal/infrastructure/config"
	"xdsl/internal/infrastructure/exchange/hyperliquid"
	"xdsl/internal/infrastructure/exchange/senpi"
	"xdsl/internal/infrastructure/metrics"
	"xdsl/internal/infrastructure/storage/composite"
	filerepo "xdsl/internal/infrastructure/storage/file"
	"xdsl/internal/infrastructure/storage/memory"
	pgrepo "xdsl/internal/infrastructure/storage/postgres"
	redisrepo "xdsl/internal/infrastructure/storage/redis"
	sqliterepo "xdsl/internal/infrastructure/storage/sqlite"
	"xdsl/internal/interfaces/console"
	"xdsl/internal/interfaces/httpapi"
)

type ServiceContext struct {
	Ctx    context.Context
	Config *config.Config

	// infrastructure
	redisClient *redisclient.Client
	sqliteRepo  *sqliterepo.Repo
	redisRepo   *redisrepo.Repo
	wsSource    *hyperliquid.WSSource

	// ports
	Store    port.RecordStore
	Journal  *composite.Journal
	Prices   port.PriceSource
	Closer   port.PositionCloser
	Archiver port.Archiver // nil unless s3 is enabled
	Metrics  *metrics.Observer
	Sink     port.Sink

	// application
	Orchestrator *service.Orchestrator
	Health       *service.HealthCheck
	Monitor      *monitor.Service
	HTTP         *httpapi.Server // nil unless http is enabled

	closerChain []func() error
}

// New builds every component in dependency order. On failure whatever was
// already opened is closed again.
func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	sc := &ServiceContext{
		Ctx:         ctx,
		Config:      cfg,
		Sink:        console.NewSink(),
		closerChain: make([]func() error, 0),
	}
	if err := sc.initializeComponents(); err != nil {
		_ = sc.Close()
		return nil, err
	}
	return sc, nil
}

func (sc *ServiceContext) initializeComponents() error {
	// 0. storage first, everything else reads from it
	if err := sc.initializeStorage(); err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}
	if err := sc.initializeJournal(); err != nil {
		return fmt.Errorf("journal initialization failed: %w", err)
	}

	// 1. venue
	if err := sc.initializePrices(); err != nil {
		return err
	}
	sc.Closer = senpi.NewCloser(sc.Config.Closer.Command, sc.Config.Closer.Args)

	// 2. optional sinks
	if sc.Config.S3.Enabled {
		arch, err := s3blob.New(sc.Ctx, s3blob.Config{
			Endpoint:     sc.Config.S3.Endpoint,
			Region:       sc.Config.S3.Region,
			Bucket:       sc.Config.S3.Bucket,
			AccessKey:    sc.Config.S3.AccessKey,
			SecretKey:    sc.Config.S3.SecretKey,
			Prefix:       sc.Config.S3.Prefix,
			UsePathStyle: sc.Config.S3.UsePathStyle,
		})
		if err != nil {
			return fmt.Errorf("s3 initialization failed: %w", err)
		}
		sc.Archiver = arch
		log.Info().Str("bucket", sc.Config.S3.Bucket).Msg("✓ S3 archive initialized")
	}
	if sc.Config.Metrics.Enabled || sc.Config.HTTP.Enabled {
		sc.Metrics = metrics.New(sc.Config.Metrics.Namespace)
	}

	// 3. application
	eng := sc.Config.Engine
	deps := service.OrchestratorDeps{
		Store:    sc.Store,
		Prices:   service.NewPriceBook(sc.Prices, time.Duration(eng.FetchTimeoutSec)*time.Second),
		Closer:   service.NewCloseExecutor(sc.Closer, time.Duration(eng.CloseTimeoutSec)*time.Second),
		Journal:  sc.Journal,
		Archiver: sc.Archiver,

		MaxFetchFailures: eng.MaxFetchFailures,
	}
	if sc.Metrics != nil {
		deps.Observer = sc.Metrics
	}
	sc.Orchestrator = service.NewOrchestrator(deps)
	sc.Health = service.NewHealthCheck(sc.Store, time.Duration(eng.StaleAfterMin)*time.Minute)

	sc.Monitor = monitor.NewService(monitor.ServiceDeps{
		Runner:        sc.Orchestrator,
		Sink:          sc.Sink,
		Schedule:      sc.Config.App.Schedule,
		RunTimeout:    time.Duration(sc.Config.App.RunTimeoutSec) * time.Second,
		PrintEveryMin: sc.Config.App.PrintEveryMin,
		Color:         sc.Config.App.Color,
	})

	if sc.Config.HTTP.Enabled {
		sc.HTTP = httpapi.New(httpapi.Config{
			Addr:           sc.Config.HTTP.Addr,
			AllowedOrigins: sc.Config.HTTP.AllowedOrigins,
			Health:         sc.Health,
			State:          sc.Monitor.State(),
			Reports:        sc.Journal,
			Metrics:        sc.Metrics.Handler(),
		})
	}

	log.Info().
		Str("backend", sc.Config.State.Backend).
		Str("prices", sc.Prices.Name()).
		Int("journals", sc.Journal.Len()).
		Msg("✓ All components initialized")
	return nil
}

// initializeStorage opens the record store for state.backend.
func (sc *ServiceContext) initializeStorage() error {
	if sc.Config.SQLite.Enabled {
		if err := sc.initSQLite(); err != nil {
			return fmt.Errorf("sqlite initialization failed: %w", err)
		}
	}
	if sc.Config.Redis.Enabled {
		if err := sc.initRedis(); err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
	}

	switch sc.Config.State.Backend {
	case config.BackendFile:
		repo, err := filerepo.New(sc.Config.State.Dir, sc.Config.State.Prefix)
		if err != nil {
			return err
		}
		sc.Store = repo
	case config.BackendSQLite:
		sc.Store = sc.sqliteRepo
	case config.BackendRedis:
		sc.Store = sc.redisRepo
	case config.BackendMemory:
		sc.Store = memory.New()
	}
	if sc.Store == nil {
		return ErrNoRecordStore
	}
	log.Info().Str("backend", sc.Config.State.Backend).Msg("✓ Record store initialized")
	return nil
}

// initializeJournal fans batch reports out to every enabled store. An
// in-memory journal backs /reports when nothing durable is configured.
func (sc *ServiceContext) initializeJournal() error {
	var journals []port.Journal
	if sc.sqliteRepo != nil {
		journals = append(journals, sc.sqliteRepo)
	}
	if sc.redisRepo != nil {
		journals = append(journals, sc.redisRepo)
	}
	if sc.Config.Postgres.Enabled {
		repo, err := pgrepo.New(sc.Config.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("postgres initialization failed: %w", err)
		}
		sc.closerChain = append(sc.closerChain, func() error {
			log.Info().Msg("closing postgres connection")
			return repo.Close()
		})
		journals = append(journals, repo)
		log.Info().Msg("✓ Postgres journal initialized")
	}
	if len(journals) == 0 {
		journals = append(journals, memory.New())
	}
	sc.Journal = composite.New(journals...)
	return nil
}

func (sc *ServiceContext) initializePrices() error {
	hl := sc.Config.Hyperliquid
	rest := hyperliquid.NewClient(hl.InfoURL, hl.Dex)
	switch hl.Transport {
	case config.TransportHTTP:
		sc.Prices = rest
	case config.TransportWS:
		sc.wsSource = hyperliquid.NewWSSource(hl.WsURL, rest)
		sc.Prices = sc.wsSource
	}
	if sc.Prices == nil {
		return ErrNoPriceSource
	}
	return nil
}

func (sc *ServiceContext) initRedis() error {
	rdb := redisclient.NewClient(&redisclient.Options{
		Addr:     sc.Config.Redis.Addr,
		Password: sc.Config.Redis.Password,
		DB:       sc.Config.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(sc.Ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}

	sc.redisClient = rdb
	sc.redisRepo = redisrepo.New(rdb, redisrepo.Options{
		Prefix:       sc.Config.Redis.Prefix,
		TTL:          time.Duration(sc.Config.Redis.TTLSeconds) * time.Second,
		LockTTL:      time.Duration(sc.Config.Redis.LockTTLSeconds) * time.Second,
		EventStream:  sc.Config.Redis.EventStream,
		EventChannel: sc.Config.Redis.EventChannel,
	})

	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})

	log.Info().
		Str("addr", sc.Config.Redis.Addr).
		Int("db", sc.Config.Redis.DB).
		Msg("✓ Redis initialized")
	return nil
}

func (sc *ServiceContext) initSQLite() error {
	repo, err := sqliterepo.New(sc.Config.SQLite.Path)
	if err != nil {
		return fmt.Errorf("sqlite repo creation failed: %w", err)
	}
	sc.sqliteRepo = repo

	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing sqlite connection")
		return repo.Close()
	})

	log.Info().Str("path", sc.Config.SQLite.Path).Msg("✓ SQLite initialized")
	return nil
}

// StartStreams starts long-lived feeds; only the ws price stream has one.
func (sc *ServiceContext) StartStreams(ctx context.Context) {
	if sc.wsSource != nil {
		go sc.wsSource.Run(ctx)
	}
}

// Close releases resources in reverse order of acquisition.
func (sc *ServiceContext) Close() error {
	var firstErr error
	for i := len(sc.closerChain) - 1; i >= 0; i-- {
		if err := sc.closerChain[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	sc.closerChain = nil
	return firstErr
}
