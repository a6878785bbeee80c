package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/0xPuncker/flow-scheduler/internal/config"
	"github.com/0xPuncker/flow-scheduler/pkg/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Path     string
	RawPath  string
	RawQuery string
	Header   http.Header
	Body     string
}

type engineServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []capturedRequest
	status   int
}

func newEngineServer(t *testing.T, status int) *engineServer {
	t.Helper()
	s := &engineServer{status: status}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.requests = append(s.requests, capturedRequest{
			Path:     r.URL.Path,
			RawPath:  r.URL.EscapedPath(),
			RawQuery: r.URL.RawQuery,
			Header:   r.Header.Clone(),
			Body:     string(body),
		})
		s.mu.Unlock()
		w.WriteHeader(s.status)
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *engineServer) Requests() []capturedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]capturedRequest(nil), s.requests...)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestTriggerN8N(t *testing.T) {
	server := newEngineServer(t, http.StatusOK)
	d := New(config.DispatchConfig{
		RatePerSec: 100,
		Engines: map[string]config.EngineConfig{
			"n8n": {BaseURL: server.URL + "/", APIKey: "secret"},
		},
	}, quietLogger())

	job := types.JobDefinition{
		WorkflowID:   "wf-1",
		Engine:       types.EngineN8N,
		Schedule:     "*/5 * * * *",
		InputPayload: json.RawMessage(`{"chat_input":{"input_text":"hello world!"}}`),
	}
	require.NoError(t, d.Trigger(context.Background(), job))

	requests := server.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "/webhook/wf-1", requests[0].Path)
	assert.Equal(t, "Bearer secret", requests[0].Header.Get("Authorization"))
	assert.Equal(t, "application/json", requests[0].Header.Get("Content-Type"))
	assert.JSONEq(t, string(job.InputPayload), requests[0].Body)
}

func TestTriggerLangflowDefaultsAndEmptyPayload(t *testing.T) {
	server := newEngineServer(t, http.StatusAccepted)
	d := New(config.DispatchConfig{
		RatePerSec: 100,
		Engines: map[string]config.EngineConfig{
			"Langflow": {BaseURL: server.URL, APIKey: "lf-key"},
		},
	}, quietLogger())

	job := types.JobDefinition{WorkflowID: "flow-9", Engine: types.EngineLangflow, Schedule: "@hourly"}
	require.NoError(t, d.Trigger(context.Background(), job))

	requests := server.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "/api/v1/run/flow-9", requests[0].Path)
	assert.Equal(t, "lf-key", requests[0].Header.Get("x-api-key"))
	assert.Empty(t, requests[0].Header.Get("Authorization"))
	assert.JSONEq(t, `{}`, requests[0].Body)
}

func TestTriggerCustomPath(t *testing.T) {
	server := newEngineServer(t, http.StatusOK)
	d := New(config.DispatchConfig{
		Engines: map[string]config.EngineConfig{
			"n8n": {BaseURL: server.URL, TriggerPath: "/webhook-test/{workflowId}/run", AuthHeader: "X-N8N-API-KEY", APIKey: "k"},
		},
	}, quietLogger())

	job := types.JobDefinition{WorkflowID: "abc", Engine: types.EngineN8N}
	url, err := d.URL(job)
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/webhook-test/abc/run", url)

	require.NoError(t, d.Trigger(context.Background(), job))
	assert.Equal(t, "k", server.Requests()[0].Header.Get("X-N8N-API-KEY"))
}

func TestTriggerEscapesWorkflowID(t *testing.T) {
	server := newEngineServer(t, http.StatusOK)
	d := New(config.DispatchConfig{
		Engines: map[string]config.EngineConfig{"n8n": {BaseURL: server.URL}},
	}, quietLogger())

	job := types.JobDefinition{WorkflowID: "../../rest/workflows?x#", Engine: types.EngineN8N}
	target, err := d.URL(job)
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/webhook/..%2F..%2Frest%2Fworkflows%3Fx%23", target)

	require.NoError(t, d.Trigger(context.Background(), job))
	requests := server.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "/webhook/..%2F..%2Frest%2Fworkflows%3Fx%23", requests[0].RawPath)
	assert.Empty(t, requests[0].RawQuery)
}

func TestTriggerEngineCaseInsensitive(t *testing.T) {
	server := newEngineServer(t, http.StatusOK)
	d := New(config.DispatchConfig{
		Engines: map[string]config.EngineConfig{"n8n": {BaseURL: server.URL}},
	}, quietLogger())

	job := types.JobDefinition{WorkflowID: "wf", Engine: types.Engine("N8N")}
	assert.True(t, d.Configured(job.Engine))
	require.NoError(t, d.Trigger(context.Background(), job))
	assert.Equal(t, "/webhook/wf", server.Requests()[0].Path)
	assert.Equal(t, "n8n", DisplayName(job.Engine))
}

func TestTriggerNonSuccessStatus(t *testing.T) {
	server := newEngineServer(t, http.StatusBadGateway)
	d := New(config.DispatchConfig{
		Engines: map[string]config.EngineConfig{"n8n": {BaseURL: server.URL}},
	}, quietLogger())

	err := d.Trigger(context.Background(), types.JobDefinition{WorkflowID: "wf", Engine: types.EngineN8N})

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "ok")
}

func TestTriggerUnconfiguredEngine(t *testing.T) {
	d := New(config.DispatchConfig{
		Engines: map[string]config.EngineConfig{"langflow": {}},
	}, quietLogger())

	assert.False(t, d.Configured(types.EngineLangflow))
	err := d.Trigger(context.Background(), types.JobDefinition{WorkflowID: "wf", Engine: types.EngineLangflow})
	assert.ErrorIs(t, err, ErrEngineNotConfigured)
}

func TestTriggerCancelledContext(t *testing.T) {
	server := newEngineServer(t, http.StatusOK)
	d := New(config.DispatchConfig{
		RatePerSec: 0.001,
		Engines:    map[string]config.EngineConfig{"n8n": {BaseURL: server.URL}},
	}, quietLogger())

	job := types.JobDefinition{WorkflowID: "wf", Engine: types.EngineN8N}
	require.NoError(t, d.Trigger(context.Background(), job))

	// The burst is spent, so the next call has to wait on the limiter.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, d.Trigger(ctx, job))
	assert.Len(t, server.Requests(), 1)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "n8n", DisplayName(types.EngineN8N))
	assert.Equal(t, "Langflow", DisplayName(types.EngineLangflow))
}
