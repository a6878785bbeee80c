package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/0xPuncker/flow-scheduler/internal/config"
	"github.com/0xPuncker/flow-scheduler/pkg/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"
)

// ErrEngineNotConfigured is returned when a job names an engine that has no
// base URL.
var ErrEngineNotConfigured = errors.New("dispatch: engine not configured")

const workflowPlaceholder = "{workflowId}"

// StatusError reports a non-2xx answer from a workflow engine.
type StatusError struct {
	Engine     types.Engine
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Engine, e.StatusCode, e.Body)
}

type target struct {
	baseURL     string
	triggerPath string
	apiKey      string
	authHeader  string
	limiter     *rate.Limiter
}

// Dispatcher starts workflow runs on the configured engines over HTTP.
type Dispatcher struct {
	logger  *logrus.Logger
	client  *http.Client
	targets map[types.Engine]*target
}

func New(cfg config.DispatchConfig, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ratePerSec := cfg.RatePerSec
	if ratePerSec <= 0 {
		ratePerSec = 5
	}

	d := &Dispatcher{
		logger:  logger,
		client:  &http.Client{Timeout: config.Duration(cfg.Timeout, 5*time.Second)},
		targets: make(map[types.Engine]*target),
	}

	for name, ec := range cfg.Engines {
		if ec.BaseURL == "" {
			continue
		}
		engine := types.Engine(name).Normalize()
		path, header := defaults(engine)
		if ec.TriggerPath != "" {
			path = ec.TriggerPath
		}
		if ec.AuthHeader != "" {
			header = ec.AuthHeader
		}
		d.targets[engine] = &target{
			baseURL:     strings.TrimRight(ec.BaseURL, "/"),
			triggerPath: path,
			apiKey:      ec.APIKey,
			authHeader:  header,
			limiter:     rate.NewLimiter(rate.Limit(ratePerSec), 1),
		}
	}

	return d
}

func defaults(engine types.Engine) (path, header string) {
	switch engine {
	case types.EngineLangflow:
		return "/api/v1/run/" + workflowPlaceholder, "x-api-key"
	default:
		return "/webhook/" + workflowPlaceholder, "Authorization"
	}
}

// DisplayName renders an engine name for humans.
func DisplayName(engine types.Engine) string {
	engine = engine.Normalize()
	if engine == types.EngineN8N {
		return "n8n"
	}
	return cases.Title(language.English).String(engine.String())
}

// Configured reports whether engine has a trigger target.
func (d *Dispatcher) Configured(engine types.Engine) bool {
	_, ok := d.targets[engine.Normalize()]
	return ok
}

// URL returns the trigger URL for job. The workflow ID is escaped as a
// single path segment.
func (d *Dispatcher) URL(job types.JobDefinition) (string, error) {
	t, ok := d.targets[job.Engine.Normalize()]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrEngineNotConfigured, job.Engine)
	}
	return t.baseURL + strings.ReplaceAll(t.triggerPath, workflowPlaceholder, url.PathEscape(job.WorkflowID)), nil
}

// Trigger posts the job's input payload to its engine. It waits for the
// engine's rate limiter and honours ctx cancellation.
func (d *Dispatcher) Trigger(ctx context.Context, job types.JobDefinition) error {
	t, ok := d.targets[job.Engine.Normalize()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEngineNotConfigured, job.Engine)
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for %s rate limit: %w", DisplayName(job.Engine), err)
	}

	target, err := d.URL(job)
	if err != nil {
		return err
	}

	body := []byte(job.InputPayload)
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error creating trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		value := t.apiKey
		if strings.EqualFold(t.authHeader, "Authorization") {
			value = "Bearer " + t.apiKey
		}
		req.Header.Set(t.authHeader, value)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("error triggering %s workflow %s: %w", DisplayName(job.Engine), job.WorkflowID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{
			Engine:     job.Engine,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	d.logger.WithFields(logrus.Fields{
		"engine":      DisplayName(job.Engine),
		"workflow_id": job.WorkflowID,
		"status":      resp.StatusCode,
	}).Info("Successfully triggered workflow")
	return nil
}
