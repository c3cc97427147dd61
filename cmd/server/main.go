package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/raidhall/internal/catalog"
	"github.com/DoyleJ11/raidhall/internal/config"
	"github.com/DoyleJ11/raidhall/internal/httpapi"
	"github.com/DoyleJ11/raidhall/internal/hub"
	"github.com/DoyleJ11/raidhall/internal/persist"
	"github.com/DoyleJ11/raidhall/internal/repository"
)

const shutdownTimeout = 10 * time.Second

func main() {
	log.SetFlags(0)
	if err := config.LoadDotEnv(); err != nil {
		log.Fatal(err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := &config.Config{}
	cobra.CheckErr(config.NewCommand(cfg, serve).ExecuteContext(ctx))
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cat, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return err
	}

	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	writer := persist.NewWriter(repo, cfg.QueueSize, cfg.WriteTimeout, logger)
	h := hub.NewHub(context.Background(), hub.Deps{
		Catalog:      cat,
		Repo:         repo,
		Writer:       writer,
		Log:          logger,
		Retention:    cfg.Retention,
		VoteDuration: cfg.VoteDuration,
		StoreTimeout: cfg.WriteTimeout,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           httpapi.NewServer(h, cat, repo, cfg.BaseURL, logger).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// The writer outlives the hub so results of raids ending during shutdown
	// still reach the store.
	writerCtx, stopWriter := context.WithCancel(context.Background())
	defer stopWriter()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return writer.Run(writerCtx)
	})
	g.Go(func() error {
		defer stopWriter()
		return h.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", srv.Addr), zap.Int("raids", len(cat.Raids())))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err = g.Wait()
	logger.Info("stopped", zap.Error(err))
	return err
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.LoadFile(path)
}

func openRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Repository, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Info("using in-memory store")
		return repository.NewInMemoryRepository(repository.SampleCharacters()...), func() {}, nil
	}
	repo, err := repository.NewPostgresRepository(ctx, cfg.DatabaseURL, cfg.Seed)
	if err != nil {
		return nil, nil, err
	}
	closeRepo := func() {
		if err := repo.Close(); err != nil {
			logger.Warn("closing store", zap.Error(err))
		}
	}
	return repo, closeRepo, nil
}
