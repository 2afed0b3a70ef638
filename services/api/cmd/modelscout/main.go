package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"modelscout/pkg/bus"
	"modelscout/pkg/db"
	gos3 "modelscout/pkg/s3"
	"modelscout/pkg/telemetry"
	"modelscout/services/api"
	"modelscout/services/catalog"
	"modelscout/services/importer"
	"modelscout/services/registry"
	"modelscout/services/resolver"
	"modelscout/services/transfer"
)

const serviceName = "modelscout-api"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := api.LoadConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	var requestMiddleware func(http.Handler) http.Handler
	if cfg.OTLPEndpoint != "" {
		shutdown, mw, err := telemetry.Init(ctx, serviceName, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("init telemetry")
		}
		requestMiddleware = mw
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("shutdown telemetry")
			}
		}()
	}

	cat := catalog.New()
	var (
		pool    *pgxpool.Pool
		orm     *gorm.DB
		archive *importer.Archive
	)
	if cfg.DBDSN != "" {
		p, err := db.Open(ctx, cfg.DBDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("open database")
		}
		defer p.Close()
		pool = p

		if err := db.Migrate(ctx, p); err != nil {
			log.Fatal().Err(err).Msg("migrate database")
		}

		cat, err = catalog.Load(ctx, p)
		if err != nil {
			log.Fatal().Err(err).Msg("load catalog")
		}

		orm, err = gorm.Open(postgres.Open(cfg.DBDSN), &gorm.Config{})
		if err != nil {
			log.Fatal().Err(err).Msg("open gorm")
		}
		archive, err = importer.NewArchive(orm)
		if err != nil {
			log.Fatal().Err(err).Msg("init archive")
		}
	} else {
		log.Warn().Msg("DB_DSN not set; running with empty catalog and no job archive")
	}

	var events *bus.Bus
	if cfg.NATSURL != "" {
		b, err := bus.New(cfg.NATSURL)
		if err != nil {
			log.Fatal().Err(err).Msg("connect nats")
		}
		defer b.Close()
		events = b

		statusSub, err := transfer.ListenStatus(ctx, events, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("subscribe download status")
		}
		defer statusSub.Close()
	}

	var s3c *gos3.Client
	if cfg.ArtifactBucket != "" {
		c, err := gos3.NewClientFromEnv()
		if err != nil {
			log.Fatal().Err(err).Msg("init s3 client")
		}
		s3c = c
	}

	policy, keys, err := registry.LoadFile(cfg.PolicyFile)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.PolicyFile).Msg("load registry policy")
	}

	registryOpts := []registry.Option{registry.WithTimeout(cfg.RegistryTimeout)}
	if cfg.RegistryBaseURL != "" {
		registryOpts = append(registryOpts, registry.WithBaseURL(cfg.RegistryBaseURL))
	}
	civitai := registry.NewClient(policy, log.Logger, registryOpts...)

	res := resolver.NewTiered(cat, nil, civitai, log.Logger)
	downloads := transfer.New(s3c, cfg.ArtifactBucket, events, log.Logger)

	imports, err := importer.New(res, importer.Options{
		Keys:          keys.KeyFor,
		Downloads:     downloads,
		Events:        events,
		Archive:       archive,
		WatchInterval: cfg.WatchInterval,
		Logger:        log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("init import orchestrator")
	}

	app, err := api.New(imports, cat, pool, cfg, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("init api")
	}

	handler, err := app.Routes()
	if err != nil {
		log.Fatal().Err(err).Msg("build routes")
	}
	if requestMiddleware != nil {
		handler = requestMiddleware(handler)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("starting modelscout-api")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown server")
	}
}
