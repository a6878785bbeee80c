package cron_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/0xPuncker/flow-scheduler/internal/cron"
	"github.com/0xPuncker/flow-scheduler/internal/testutil"
	"github.com/0xPuncker/flow-scheduler/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := cron.NewMetrics(reg)

	clock := testutil.NewFakeClock(epoch)
	clock.Start()
	registry := cron.NewRegistry(clock, testutil.QuietLogger(), cron.WithMetrics(metrics))
	defer registry.Close()

	ok := testutil.Job(t, types.EngineN8N, "ok", "*/5 * * * *", nil)
	failing := testutil.Job(t, types.EngineLangflow, "failing", "*/5 * * * *", nil)
	require.NoError(t, registry.Arm(ok.Key(), ok, func(context.Context, types.JobDefinition) error { return nil }))
	require.NoError(t, registry.Arm(failing.Key(), failing, func(context.Context, types.JobDefinition) error {
		return errors.New("502 bad gateway")
	}))
	require.Error(t, registry.Arm("n8n:bad", types.JobDefinition{Schedule: "bad"}, func(context.Context, types.JobDefinition) error { return nil }))

	clock.Advance(10 * time.Minute)

	assert.Equal(t, float64(2), gathered(t, reg, "flow_scheduler_armed_jobs"))
	assert.Equal(t, float64(1), gathered(t, reg, "flow_scheduler_arm_failures_total"))
	assert.Equal(t, float64(2), gathered(t, reg, "flow_scheduler_job_fire_errors_total"))

	registry.Disarm(ok.Key())
	assert.Equal(t, float64(1), gathered(t, reg, "flow_scheduler_armed_jobs"))
}

func TestNilMetrics(t *testing.T) {
	clock := testutil.NewFakeClock(epoch)
	clock.Start()
	registry := cron.NewRegistry(clock, testutil.QuietLogger(), cron.WithMetrics(nil))
	defer registry.Close()

	job := testutil.Job(t, types.EngineN8N, "wf-1", "*/5 * * * *", nil)
	require.NoError(t, registry.Arm(job.Key(), job, func(context.Context, types.JobDefinition) error { return nil }))
	assert.NotPanics(t, func() { clock.Advance(time.Hour) })
}

// gathered returns the value of a single-series metric family.
func gathered(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		require.Len(t, family.GetMetric(), 1)
		metric := family.GetMetric()[0]
		if gauge := metric.GetGauge(); gauge != nil {
			return gauge.GetValue()
		}
		return metric.GetCounter().GetValue()
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}
