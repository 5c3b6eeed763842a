// Package attendance implements the sign-in workflow: publishing tasks to
// groups and reconciling member statuses from submitted class photos.
package attendance

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rollcall-io/rollcall/internal/database"
)

// PublishRequest describes a sign-in task to fan out to groups.
// TaskID is normally empty; passing the task ID of a previous partially
// failed publish resumes it, completing the groups and records that were
// not committed the first time.
type PublishRequest struct {
	GroupIDs  []string
	Initiator string
	TaskID    string
}

// PublishResult reports which groups received the task and how many
// attendance records were opened.
type PublishResult struct {
	TaskID         string   `json:"task_id"`
	Published      []string `json:"published"`
	Skipped        []string `json:"skipped,omitempty"`
	RecordsCreated int      `json:"records_created"`
}

// Publisher fans a sign-in task out to groups: one task row per group and
// one not-signed attendance record per group member.
type Publisher struct {
	groups  database.GroupStore
	tasks   database.TaskStore
	records database.RecordStore
	logger  *zap.Logger
}

// NewPublisher creates a publisher over the given stores.
func NewPublisher(
	groups database.GroupStore,
	tasks database.TaskStore,
	records database.RecordStore,
	logger *zap.Logger,
) *Publisher {
	return &Publisher{
		groups:  groups,
		tasks:   tasks,
		records: records,
		logger:  logger,
	}
}

// Publish creates the task rows and member records for every existing group
// in the request, in request order. Unknown groups are skipped with a
// warning. A storage failure inside one group stops the fan-out and
// surfaces the error; groups committed before the failure stay committed,
// so a retry with the same task ID resumes where the failure hit: existing
// task rows and records count as success.
func (p *Publisher) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	if len(req.GroupIDs) == 0 {
		return nil, fmt.Errorf("%w: no target groups", ErrInvalidInput)
	}
	if req.Initiator == "" {
		return nil, fmt.Errorf("%w: empty initiator", ErrInvalidInput)
	}

	taskID := req.TaskID
	if taskID == "" {
		taskID = database.NewShortID()
	} else if len(taskID) != database.ShortIDLength {
		return nil, fmt.Errorf("%w: malformed task id %q", ErrInvalidInput, taskID)
	}

	result := &PublishResult{TaskID: taskID}

	for _, groupID := range req.GroupIDs {
		exists, err := p.groups.Exists(ctx, groupID)
		if err != nil {
			return nil, fmt.Errorf("check group %s: %w", groupID, err)
		}
		if !exists {
			p.logger.Warn("skipping unknown group",
				zap.String("task_id", taskID),
				zap.String("group_id", groupID))
			result.Skipped = append(result.Skipped, groupID)
			continue
		}

		created, err := p.publishGroup(ctx, taskID, groupID, req.Initiator)
		if err != nil {
			p.logger.Error("publishing to group failed",
				zap.String("task_id", taskID),
				zap.String("group_id", groupID),
				zap.Error(err))
			return nil, fmt.Errorf("publish task %s to group %s: %w", taskID, groupID, err)
		}

		result.Published = append(result.Published, groupID)
		result.RecordsCreated += created
	}

	if len(result.Published) == 0 {
		return nil, ErrNoTargetGroups
	}

	p.logger.Info("task published",
		zap.String("task_id", taskID),
		zap.Int("groups", len(result.Published)),
		zap.Int("records", result.RecordsCreated))

	return result, nil
}

// publishGroup commits one group's task row and member records and returns
// the number of records created. Rows and records left by an earlier
// attempt are treated as already done.
func (p *Publisher) publishGroup(ctx context.Context, taskID, groupID, initiator string) (int, error) {
	_, err := p.tasks.CreateRow(ctx, taskID, groupID, initiator)
	if err != nil && !errors.Is(err, database.ErrDuplicateRecord) {
		return 0, fmt.Errorf("create task row: %w", err)
	}

	memberIDs, err := p.groups.MemberIDs(ctx, groupID)
	if err != nil {
		return 0, fmt.Errorf("list group members: %w", err)
	}

	created := 0
	for _, memberID := range memberIDs {
		_, err := p.records.Create(ctx, taskID, memberID)
		if errors.Is(err, database.ErrDuplicateRecord) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("create record for member %s: %w", memberID, err)
		}
		created++
	}

	return created, nil
}
