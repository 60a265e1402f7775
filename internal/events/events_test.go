package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	server, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestSubject(t *testing.T) {
	tests := []struct {
		event   Event
		want    string
		wantErr bool
	}{
		{event: Event{Kind: KindPipelineCompleted, Pipeline: "onboarding"}, want: "coachd.pipeline.onboarding.completed"},
		{event: Event{Kind: KindInterventionTriggered}, want: "coachd.intervention.triggered"},
		{event: Event{Kind: KindMorningBriefing}, want: "coachd.briefing.morning"},
		{event: Event{Kind: KindPipelineCompleted}, wantErr: true},
		{event: Event{Kind: "weather"}, wantErr: true},
	}

	for _, tt := range tests {
		got, err := Subject(tt.event)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnknownKind)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestNATSPublisher_Publish(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("coachd.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	now := time.Date(2026, 1, 5, 7, 0, 0, 0, time.UTC)
	pub := NewNATSPublisher(nc)
	pub.now = func() time.Time { return now }

	err = pub.Publish(context.Background(), Event{
		Kind:     KindPipelineCompleted,
		Pipeline: "daily_check",
		RunID:    "run-1",
		UserID:   "u1",
		Data:     map[string]any{"errors": 0},
	})
	require.NoError(t, err)

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "coachd.pipeline.daily_check.completed", msg.Subject)

	var got Event
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "run-1", got.RunID)
	assert.True(t, now.Equal(got.Timestamp))
}

func TestNATSPublisher_RejectsUnknownKind(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	err = NewNATSPublisher(nc).Publish(context.Background(), Event{Kind: "nope"})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestConnect(t *testing.T) {
	pub, closeFn, err := Connect(context.Background(), "")
	require.NoError(t, err)
	assert.IsType(t, Nop{}, pub)
	closeFn()

	server := startTestNATSServer(t)
	pub, closeFn, err = Connect(context.Background(), server.ClientURL())
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &NATSPublisher{}, pub)
	assert.NoError(t, pub.Publish(context.Background(), Event{Kind: KindMorningBriefing, UserID: "u1"}))
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	ctx := context.Background()
	require.NoError(t, r.Publish(ctx, Event{Kind: KindMorningBriefing, UserID: "a"}))
	require.NoError(t, r.Publish(ctx, Event{Kind: KindInterventionTriggered, UserID: "b"}))
	assert.Error(t, r.Publish(ctx, Event{Kind: "bogus"}))

	assert.Len(t, r.Events(), 2)
	require.Len(t, r.OfKind(KindInterventionTriggered), 1)
	assert.Equal(t, "b", r.OfKind(KindInterventionTriggered)[0].UserID)
}
