package cascaderun

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/yungbote/objective-cascade/internal/domain/cascade"
	"github.com/yungbote/objective-cascade/internal/modules/cascade/pipeline"
)

// Execution identifies a started pipeline workflow.
type Execution struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
}

// Launcher starts pipeline workflows on a task queue.
type Launcher struct {
	tc        client.Client
	taskQueue string
}

func NewLauncher(tc client.Client, taskQueue string) *Launcher {
	return &Launcher{tc: tc, taskQueue: taskQueue}
}

// Start launches the campaign's pipeline. A pipeline already in flight for
// the same campaign is reported as a conflict.
func (l *Launcher) Start(ctx context.Context, req pipeline.Request) (*Execution, error) {
	if l == nil || l.tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	cid := strings.TrimSpace(req.CampaignID)
	if cid == "" {
		return nil, cascade.InvalidArgumentError("cascaderun.Start", "campaign id required")
	}
	req.CampaignID = cid
	run, err := l.tc.ExecuteWorkflow(ctx, StartOptions(l.taskQueue, cid), WorkflowName, req)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return nil, cascade.GraphConflictError("cascaderun.Start", "pipeline for campaign %s already running", cid)
		}
		return nil, cascade.GraphConnectivityError("cascaderun.Start", err)
	}
	return &Execution{WorkflowID: run.GetID(), RunID: run.GetRunID()}, nil
}
