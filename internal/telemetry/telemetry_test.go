package telemetry

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/coachd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DisabledIsNoop(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	assert.False(t, tel.Enabled())
	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestConfig_Validate(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	require.NoError(t, cfg.Validate())

	cfg.Endpoint = "collector.example.com:4317"
	assert.Error(t, cfg.Validate(), "insecure remote endpoint")

	cfg.Insecure = false
	assert.NoError(t, cfg.Validate())

	cfg.Protocol = "udp"
	assert.Error(t, cfg.Validate())

	cfg.Protocol = "grpc"
	cfg.SampleRate = 2
	assert.Error(t, cfg.Validate())
}

func TestIsLocalEndpoint(t *testing.T) {
	assert.True(t, isLocalEndpoint("localhost:4317"))
	assert.True(t, isLocalEndpoint("127.0.0.1:4317"))
	assert.True(t, isLocalEndpoint("[::1]:4317"))
	assert.True(t, isLocalEndpoint("http://localhost:4318"))
	assert.False(t, isLocalEndpoint("otel.internal:4317"))
}

func TestFromObservability(t *testing.T) {
	obs := config.Default().Observability
	obs.EnableTelemetry = true
	obs.Protocol = "http/protobuf"

	cfg := FromObservability(obs)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "http/protobuf", cfg.Protocol)
	assert.Equal(t, "coachd", cfg.ServiceName)
	require.NoError(t, cfg.Validate())
}

func TestTestTelemetry_RecordsSpansAndCounters(t *testing.T) {
	tt := NewTestTelemetry()

	_, span := tt.Tracer("coachd.test").Start(context.Background(), "unit")
	span.End()
	assert.Equal(t, []string{"unit"}, tt.SpanNames())

	counter, err := tt.Meter("coachd.test").Int64Counter("coachd.test.count")
	require.NoError(t, err)
	counter.Add(context.Background(), 2)
	counter.Add(context.Background(), 3)
	assert.Equal(t, int64(5), tt.CounterValue(t, "coachd.test.count"))
}
