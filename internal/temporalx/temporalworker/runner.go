package temporalworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/objective-cascade/internal/platform/logger"
	"github.com/yungbote/objective-cascade/internal/temporalx"
	"github.com/yungbote/objective-cascade/internal/temporalx/cascaderun"
)

type Runner struct {
	log *logger.Logger

	tc   temporalsdkclient.Client
	cfg  temporalx.Config
	acts *cascaderun.Activities
}

func NewRunner(log *logger.Logger, tc temporalsdkclient.Client, cfg temporalx.Config, pipe cascaderun.Pipeline) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if pipe == nil {
		return nil, fmt.Errorf("temporal worker missing pipeline")
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Runner{
		log:  log,
		tc:   tc,
		cfg:  cfg,
		acts: &cascaderun.Activities{Log: log, Pipeline: pipe},
	}, nil
}

// Start polls the task queue until ctx is done, retrying worker start while
// the frontend or namespace is still coming up.
func (r *Runner) Start(ctx context.Context) error {
	if r == nil || r.tc == nil {
		return fmt.Errorf("temporal worker not initialized")
	}
	cfg := r.cfg
	r.log.Info("Starting Temporal worker", "address", cfg.Address, "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue)

	if cfg.AutoRegisterNamespace {
		if err := temporalx.EnsureNamespace(ctx, r.log, cfg); err != nil {
			r.log.Warn("Temporal namespace ensure failed; worker will retry on start", "namespace", cfg.Namespace, "error", err)
		}
	}

	deadline := time.Now().Add(cfg.DialMaxWait)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		w := r.newWorker()
		startErr := w.Start()
		if startErr == nil {
			go func() {
				<-ctx.Done()
				w.Stop()
			}()
			r.log.Info("Temporal worker started", "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue, "attempts", attempt)
			return nil
		}
		w.Stop()

		var nfe *serviceerror.NamespaceNotFound
		notFound := errors.As(startErr, &nfe)
		if notFound && cfg.AutoRegisterNamespace {
			_ = temporalx.EnsureNamespace(ctx, r.log, cfg)
		}
		if cfg.DialMaxWait <= 0 || time.Now().After(deadline) {
			if notFound {
				return fmt.Errorf("temporal namespace not found (namespace=%s): %w", cfg.Namespace, startErr)
			}
			return startErr
		}

		r.log.Warn("Temporal worker failed to start; retrying", "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue, "attempt", attempt, "error", startErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(temporalx.ClampBackoff(cfg.Backoff, cfg.BackoffMax, attempt)):
		}
	}
}

func (r *Runner) newWorker() worker.Worker {
	concurrency := max(r.cfg.WorkerConcurrency, 1)
	w := worker.New(r.tc, r.cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		// the SDK rejects a workflow task slot count of 1
		MaxConcurrentWorkflowTaskExecutionSize: max(concurrency, 2),
	})
	Register(w, r.acts)
	return w
}

// Register binds the cascade pipeline workflow and its activity to w.
func Register(w worker.Registry, acts *cascaderun.Activities) {
	w.RegisterWorkflowWithOptions(cascaderun.Workflow, workflow.RegisterOptions{Name: cascaderun.WorkflowName})
	w.RegisterActivityWithOptions(acts.RunPipeline, activity.RegisterOptions{Name: cascaderun.ActivityRunPipeline})
}
