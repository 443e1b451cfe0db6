package cascaderun

import (
	"strings"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/objective-cascade/internal/modules/cascade/pipeline"
)

// Workflow runs the campaign's pipeline as one activity, so the campaign
// write lock is held from decomposition through validation. Retries resume
// after the last committed stage.
func Workflow(ctx workflow.Context, req pipeline.Request) (Result, error) {
	cid := strings.TrimSpace(req.CampaignID)
	res := Result{CampaignID: cid}
	if cid == "" {
		return res, temporal.NewNonRetryableApplicationError("campaign id required", "invalid_argument", nil)
	}
	req.CampaignID = cid

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	if err := workflow.ExecuteActivity(ctx, ActivityRunPipeline, req).Get(ctx, &res); err != nil {
		workflow.GetLogger(ctx).Warn("cascade pipeline failed", "campaign_id", cid, "error", err)
		return res, err
	}
	workflow.GetLogger(ctx).Info("cascade pipeline finished",
		"campaign_id", cid, "status", string(res.Status), "errors", res.Report.Errors, "warnings", res.Report.Warnings)
	return res, nil
}

// WorkflowID keys pipeline workflows by campaign so one campaign never has
// two pipelines in flight.
func WorkflowID(campaignID string) string { return "cascade-pipeline-" + campaignID }

// StartOptions builds the options used to launch a campaign's pipeline.
func StartOptions(taskQueue, campaignID string) client.StartWorkflowOptions {
	return client.StartWorkflowOptions{
		ID:                                       WorkflowID(campaignID),
		TaskQueue:                                taskQueue,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}
}
