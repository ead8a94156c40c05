package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/chunkstore/engine"
	"github.com/dreamware/chunkstore/internal/config"
	"github.com/dreamware/chunkstore/memstore"
	"github.com/dreamware/chunkstore/serializer"
	"github.com/dreamware/chunkstore/sqlstore"
)

// main wires an Engine behind the HTTP API and runs it until a termination
// signal arrives.
//
// Configuration file: pass -config path/to/chunkstored.yaml, or rely
// entirely on the CHUNKSTORED_* environment variables (see server.go's
// package doc).
//
// Exit codes:
//   - 0: normal shutdown via signal
//   - 1: configuration, backend, or listener failure
func main() {
	configPath := flag.String("config", "", "path to a chunkstored YAML config file")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}

	eng, err := buildEngine(cfg, log)
	if err != nil {
		log.Fatal("build engine", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := eng.Init(ctx); err != nil {
		cancel()
		log.Fatal("init engine", zap.Error(err))
	}
	cancel()

	srv := newServer(eng, log)
	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, gctx := errgroup.WithContext(context.Background())
	group.Go(func() error {
		log.Info("chunkstored listening", zap.String("addr", cfg.Listen), zap.String("backend", cfg.Backend))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		select {
		case <-stop:
		case <-gctx.Done():
			return gctx.Err()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("chunkstored exited with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("chunkstored stopped")
}

// buildEngine constructs and, for the relational backend, opens the
// database/sql connection for the backend named by cfg.Backend.
func buildEngine(cfg config.Config, log *zap.Logger) (engine.Engine, error) {
	switch cfg.Backend {
	case "mysql":
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		store, err := sqlstore.New(db, sqlstore.MySQL(cfg.TableName), serializer.JSON(), sqlstore.WithLogger(log))
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return memstore.New(memstore.WithLogger(log)), nil
	}
}
