package types

import (
	"encoding/json"
	"strings"
)

// JobDefinition represents a persisted recurring workflow trigger
type JobDefinition struct {
	WorkflowID   string          `json:"workflowId"`
	Engine       Engine          `json:"engine"`
	Schedule     string          `json:"schedule"`
	InputPayload json.RawMessage `json:"inputPayload,omitempty"`
}

// Key returns the JobKey of the definition
func (j JobDefinition) Key() JobKey {
	return NewJobKey(j.Engine, j.WorkflowID)
}

// JobKey identifies a job in the registry and in durable storage
type JobKey string

const keySeparator = ":"

// The engine half is escaped so the first separator always ends it.
var engineEscaper = strings.NewReplacer("%", "%25", keySeparator, "%3A")

// NewJobKey derives the key for an (engine, workflowId) pair.
func NewJobKey(engine Engine, workflowID string) JobKey {
	return JobKey(engineEscaper.Replace(string(engine)) + keySeparator + workflowID)
}

func (k JobKey) String() string {
	return string(k)
}
