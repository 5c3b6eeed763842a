package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rollcall-io/rollcall/internal/artifact"
	"github.com/rollcall-io/rollcall/internal/attendance"
	"github.com/rollcall-io/rollcall/internal/config"
	"github.com/rollcall-io/rollcall/internal/database"
	"github.com/rollcall-io/rollcall/internal/database/postgres"
	"github.com/rollcall-io/rollcall/internal/embedding"
	"github.com/rollcall-io/rollcall/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the attendance API server",
	Long: `Start the rollcall HTTP server.
The server exposes group and member management, sign-in task publishing,
photo submission reconciliation, and face identification endpoints.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides SERVER_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides SERVER_HOST)")
}

// initMemberIndex loads the persisted member index when a path is
// configured, falling back to a fresh build from the database.
func initMemberIndex(
	ctx context.Context, members database.MemberStore, path string, logger *zap.Logger,
) *database.MemberIndex {
	index := database.NewMemberIndex()

	if path != "" {
		if err := index.Load(path); err == nil {
			logger.Info("member index loaded",
				zap.String("path", path),
				zap.Int("members", index.Count()))
			return index
		} else if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("loading member index failed, rebuilding", zap.Error(err))
		}
	}

	embeddings, err := members.AllEmbeddings(ctx)
	if err != nil {
		logger.Warn("building member index failed, /identify will be unavailable", zap.Error(err))
		return index
	}
	if err := index.Build(embeddings); err != nil {
		logger.Warn("building member index failed, /identify will be unavailable", zap.Error(err))
		return index
	}
	logger.Info("member index built", zap.Int("members", index.Count()))
	return index
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	cfg := config.Load()
	if port := mustGetInt(cmd, "port"); port != 0 {
		cfg.Server.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Server.Host = host
	}

	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	logger.Info("connecting to PostgreSQL")
	if err := postgres.Initialize(&cfg.Database); err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	pool := postgres.GetGlobalPool()
	defer pool.Close()

	groups := postgres.NewGroupRepository(pool)
	members := postgres.NewMemberRepository(pool)
	tasks := postgres.NewTaskRepository(pool)
	records := postgres.NewRecordRepository(pool)
	submissions := postgres.NewSubmissionRepository(pool)

	artifacts, err := artifact.NewStore(cfg.Artifacts.Dir)
	if err != nil {
		return fmt.Errorf("failed to initialize artifact store: %w", err)
	}

	detector := embedding.NewClient(cfg.Embedding.URL)
	index := initMemberIndex(context.Background(), members, cfg.Database.MemberIndexPath, logger)

	publisher := attendance.NewPublisher(groups, tasks, records, logger)
	reconciler := attendance.NewReconciler(tasks, records, members, submissions, detector, artifacts, logger)

	server := web.NewServer(cfg, web.Dependencies{
		Groups:      groups,
		Members:     members,
		Tasks:       tasks,
		Records:     records,
		Submissions: submissions,
		Publisher:   publisher,
		Reconciler:  reconciler,
		Detector:    detector,
		Enrollments: artifacts,
		Index:       index,
	}, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("shutting down")

		if path := cfg.Database.MemberIndexPath; path != "" {
			if err := index.Save(path, int64(index.Count())); err != nil {
				logger.Warn("saving member index failed", zap.Error(err))
			} else {
				logger.Info("member index saved", zap.String("path", path))
			}
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
	}()

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
