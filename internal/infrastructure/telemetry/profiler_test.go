package telemetry_test

import (
	"context"
	"runtime/pprof"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow/backend/internal/infrastructure/telemetry"
)

func TestNewProfiler_Disabled(t *testing.T) {
	p, err := telemetry.NewProfiler(telemetry.ProfilerConfig{}, nil)
	require.NoError(t, err)
	assert.False(t, p.IsEnabled())
	assert.NoError(t, p.Stop())
	assert.NoError(t, p.Stop())
}

func TestNewProfiler_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  telemetry.ProfilerConfig
		want string
	}{
		{"missing server", telemetry.ProfilerConfig{Enabled: true, ApplicationName: "orderflow"}, "server address is required"},
		{"missing application", telemetry.ProfilerConfig{Enabled: true, ServerAddress: "http://localhost:4040"}, "application name is required"},
		{"unknown profile", telemetry.ProfilerConfig{
			Enabled: true, ServerAddress: "http://localhost:4040", ApplicationName: "orderflow", Profiles: []string{"heap"},
		}, `unknown profile type "heap"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := telemetry.NewProfiler(tt.cfg, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWithProfilingLabels(t *testing.T) {
	var labels map[string]string
	telemetry.WithProfilingLabels(context.Background(), func(ctx context.Context) {
		labels = map[string]string{}
		pprof.ForLabels(ctx, func(k, v string) bool {
			labels[k] = v
			return true
		})
	}, telemetry.ProfilingLabelMethod, "POST", telemetry.ProfilingLabelRoute, "/api/v1/orders", "dangling")

	assert.Equal(t, map[string]string{
		telemetry.ProfilingLabelMethod: "POST",
		telemetry.ProfilingLabelRoute:  "/api/v1/orders",
	}, labels)
}
