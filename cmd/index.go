package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/rollcall-io/rollcall/internal/config"
	"github.com/rollcall-io/rollcall/internal/database"
	"github.com/rollcall-io/rollcall/internal/database/postgres"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Rebuild the member face index",
	Long: `Rebuild the in-memory HNSW index over enrolled member embeddings
and persist it to disk. The serve command loads the persisted index on
startup instead of rebuilding it from the database.

Examples:
  # Rebuild and persist to the configured MEMBER_INDEX_PATH
  rollcall index

  # Persist to an explicit path
  rollcall index --output ./data/members.hnsw`,
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)

	indexCmd.Flags().String("output", "", "Index file path (defaults to MEMBER_INDEX_PATH)")
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	path := mustGetString(cmd, "output")
	if path == "" {
		path = cfg.Database.MemberIndexPath
	}
	if path == "" {
		return errors.New("no index path: set MEMBER_INDEX_PATH or pass --output")
	}

	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pool.Close()

	ctx := context.Background()
	members := postgres.NewMemberRepository(pool)

	fmt.Println("Loading enrolled member embeddings...")
	embeddings, err := members.AllEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load embeddings: %w", err)
	}
	if len(embeddings) == 0 {
		fmt.Println("No enrolled members; nothing to index.")
		return nil
	}

	bar := progressbar.NewOptions(len(embeddings),
		progressbar.OptionSetDescription("Indexing members"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("members"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	index := database.NewMemberIndex()
	for _, emb := range embeddings {
		index.Add(emb)
		bar.Add(1) //nolint:errcheck
	}
	fmt.Println()

	if err := index.Save(path, int64(index.Count())); err != nil {
		return fmt.Errorf("failed to save index: %w", err)
	}

	fmt.Printf("Member index ready with %d members (persisted to %s)\n", index.Count(), path)
	return nil
}
