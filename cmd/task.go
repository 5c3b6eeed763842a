package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rollcall-io/rollcall/internal/attendance"
	"github.com/rollcall-io/rollcall/internal/config"
	"github.com/rollcall-io/rollcall/internal/database/postgres"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage sign-in tasks",
}

var taskPublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a sign-in task to groups",
	Long: `Publish a sign-in task: one open task row per target group and one
pending attendance record per group member.

Examples:
  # Publish to two groups
  rollcall task publish --groups 1a2b3c4d5e6f,f6e5d4c3b2a1 --initiator teacher-1

  # Resume a partially failed publish
  rollcall task publish --groups 1a2b3c4d5e6f --initiator teacher-1 --task-id 0123456789ab`,
	RunE: runTaskPublish,
}

var taskCloseCmd = &cobra.Command{
	Use:   "close <task-id>",
	Short: "Close a sign-in task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskClose,
}

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskPublishCmd)
	taskCmd.AddCommand(taskCloseCmd)

	taskPublishCmd.Flags().StringSlice("groups", nil, "Target group IDs (comma-separated)")
	taskPublishCmd.Flags().String("initiator", "", "Member ID of the initiator")
	taskPublishCmd.Flags().String("task-id", "", "Task ID of a partial publish to resume")
}

// connectStores opens the database pool for one-shot CLI commands.
func connectStores() (*postgres.Pool, error) {
	cfg := config.Load()
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}
	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return pool, nil
}

func runTaskPublish(cmd *cobra.Command, args []string) error {
	groupIDs := mustGetStringSlice(cmd, "groups")
	if len(groupIDs) == 0 {
		return errors.New("at least one --groups value is required")
	}
	initiator := mustGetString(cmd, "initiator")
	if initiator == "" {
		return errors.New("--initiator is required")
	}

	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	pool, err := connectStores()
	if err != nil {
		return err
	}
	defer pool.Close()

	publisher := attendance.NewPublisher(
		postgres.NewGroupRepository(pool),
		postgres.NewTaskRepository(pool),
		postgres.NewRecordRepository(pool),
		logger,
	)

	result, err := publisher.Publish(context.Background(), attendance.PublishRequest{
		GroupIDs:  groupIDs,
		Initiator: initiator,
		TaskID:    mustGetString(cmd, "task-id"),
	})
	if err != nil {
		return fmt.Errorf("publishing task: %w", err)
	}

	fmt.Printf("Task %s published to %d group(s), %d record(s) opened\n",
		result.TaskID, len(result.Published), result.RecordsCreated)
	if len(result.Skipped) > 0 {
		fmt.Printf("Skipped unknown groups: %s\n", strings.Join(result.Skipped, ", "))
	}
	return nil
}

func runTaskClose(cmd *cobra.Command, args []string) error {
	pool, err := connectStores()
	if err != nil {
		return err
	}
	defer pool.Close()

	taskID := args[0]
	closed, err := postgres.NewTaskRepository(pool).Close(context.Background(), taskID)
	if err != nil {
		return fmt.Errorf("closing task: %w", err)
	}
	if closed == 0 {
		fmt.Printf("Task %s had no open rows\n", taskID)
		return nil
	}
	fmt.Printf("Task %s closed (%d row(s))\n", taskID, closed)
	return nil
}
