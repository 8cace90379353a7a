package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/googleapis/gax-go/v2"
)

const triggerTimeout = 30 * time.Second

// executionCreator is the part of the executions client the trigger uses.
type executionCreator interface {
	CreateExecution(ctx context.Context, req *executionspb.CreateExecutionRequest, opts ...gax.CallOption) (*executionspb.Execution, error)
	Close() error
}

// WorkflowTrigger starts a Cloud Workflows execution for each stored document.
type WorkflowTrigger struct {
	client  executionCreator
	parent  string
	timeout time.Duration
}

// NewWorkflowTrigger creates an executions client for the given workflow.
func NewWorkflowTrigger(ctx context.Context, projectID, location, workflowID string) (*WorkflowTrigger, error) {
	if projectID == "" || location == "" || workflowID == "" {
		return nil, fmt.Errorf("NewWorkflowTrigger: projectID, location and workflowID cannot be empty")
	}
	client, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	return &WorkflowTrigger{
		client:  client,
		parent:  fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID),
		timeout: triggerTimeout,
	}, nil
}

// DocumentStored starts an execution with the session and document ids as argument.
func (w *WorkflowTrigger) DocumentStored(ctx context.Context, sessionID, documentID string) error {
	payloadBytes, err := json.Marshal(map[string]any{
		"sessionId":  sessionID,
		"documentId": documentID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	exec, err := w.client.CreateExecution(ctx, &executionspb.CreateExecutionRequest{
		Parent: w.parent,
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	slog.Info("Workflow execution started", "sessionId", sessionID, "documentId", documentID, "execution", exec.GetName())
	return nil
}

// Close releases the executions client.
func (w *WorkflowTrigger) Close() error {
	return w.client.Close()
}
