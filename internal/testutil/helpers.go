package testutil

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/0xPuncker/flow-scheduler/pkg/types"
	"github.com/sirupsen/logrus"
)

// QuietLogger returns a logger that discards everything.
func QuietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// Job builds a definition with a JSON payload.
func Job(t *testing.T, engine types.Engine, workflowID, schedule string, payload interface{}) types.JobDefinition {
	t.Helper()

	job := types.JobDefinition{
		WorkflowID: workflowID,
		Engine:     engine,
		Schedule:   schedule,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		job.InputPayload = raw
	}
	return job
}
