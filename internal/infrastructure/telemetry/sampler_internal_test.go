package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSamplerFor(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), samplerFor(1).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), samplerFor(0).Description())
	assert.Contains(t, samplerFor(0.25).Description(), "ParentBased")
}

func TestSQLVerb(t *testing.T) {
	cases := map[string]string{
		"  select * from orders":                 "SELECT",
		"INSERT INTO outbox_messages VALUES (?)": "INSERT",
		"update orders set status = ?":           "UPDATE",
		"DELETE FROM outbox_messages":            "DELETE",
		"PRAGMA foreign_keys = ON":               "OTHER",
	}
	for sql, want := range cases {
		assert.Equal(t, want, sqlVerb(sql), sql)
	}
}

func TestResolveProfiles(t *testing.T) {
	types, err := resolveProfiles(nil)
	assert.NoError(t, err)
	assert.Len(t, types, len(DefaultProfiles))

	types, err = resolveProfiles([]string{"cpu", "mutex_count"})
	assert.NoError(t, err)
	assert.Len(t, types, 2)

	_, err = resolveProfiles([]string{"heap"})
	assert.EqualError(t, err, `unknown profile type "heap"`)
}

func TestDBConfigDefaults(t *testing.T) {
	cfg := DBConfig{Tracing: true}.withDefaults()
	assert.True(t, cfg.Tracing)
	assert.Equal(t, "postgresql", cfg.DBName)
	assert.Equal(t, DefaultDBConfig().SlowQueryThreshold, cfg.SlowQueryThreshold)
	assert.Equal(t, DefaultDBConfig().PoolStatsInterval, cfg.PoolStatsInterval)
}
