package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/agent"
	"github.com/fyrsmithlabs/coachd/internal/agents"
	"github.com/fyrsmithlabs/coachd/internal/chat"
	"github.com/fyrsmithlabs/coachd/internal/logging"
	"github.com/fyrsmithlabs/coachd/internal/monitor"
	"github.com/fyrsmithlabs/coachd/internal/profile"
	"github.com/fyrsmithlabs/coachd/internal/session"
	"github.com/fyrsmithlabs/coachd/internal/synthesis"
	"github.com/fyrsmithlabs/coachd/internal/workflows"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 1, 12, 7, 0, 0, 0, time.UTC)

const coordinatorReply = `{
  "final_decision": {
    "interpreted_goal": "Run a 5k",
    "weekly_target": "3 runs per week",
    "first_milestone": "Run 2k without stopping",
    "reasoning": "Build up gradually"
  },
  "debate_summary": {"synthesis_rationale": "Start at 3x/week"},
  "safety_adjustments": [],
  "confidence": 0.75
}`

// generator answers the coordinator and the chat agent and "{}" otherwise.
func generator(chatErr error) agent.Generator {
	return agent.GeneratorFunc(func(_ context.Context, system, _ string, _ agent.Options) (string, error) {
		switch {
		case strings.Contains(system, "Meta-Coordinator"):
			return coordinatorReply, nil
		case strings.Contains(system, "You are the "+chat.Name):
			if chatErr != nil {
				return "", chatErr
			}
			return `{"agent_response":"Great start! What time of day suits you?","extracted_info":{"primary_goal":"fitness"},"confidence":0.85}`, nil
		case strings.Contains(system, "You are the "+agents.GoalSettingName):
			return `{"interpreted_goal":"Run a 5k","weekly_target":"4x/week","confidence":0.7}`, nil
		}
		return "{}", nil
	})
}

type testEnv struct {
	server   *Server
	profiles *profile.MemStore
	registry *prometheus.Registry
}

func setupTestServer(t *testing.T, gen agent.Generator, opts ...Option) *testEnv {
	t.Helper()
	now := func() time.Time { return fixedNow }
	profiles := profile.NewMemStore()
	sessions, err := session.NewLRUStore(10, session.DefaultMaxMessages)
	require.NoError(t, err)

	deps := workflows.Deps{
		Agents:    agents.NewRoster(gen, nil),
		Synthesis: synthesis.New(gen, synthesis.WithClock(now)),
		Profiles:  profiles,
		Now:       now,
	}
	intervention := workflows.NewIntervention(deps)
	reg := prometheus.NewRegistry()
	services := Services{
		Onboarding:   workflows.NewOnboarding(deps),
		DailyCheck:   workflows.NewDailyCheck(deps),
		Intervention: intervention,
		Resolution:   workflows.NewResolutionReview(deps),
		Chat:         chat.New(gen, sessions, chat.WithProfiles(profiles), chat.WithClock(now)),
		Monitor:      monitor.New(intervention, profiles, monitor.WithClock(now), monitor.WithRegisterer(reg)),
		Profiles:     profiles,
	}

	server, err := NewServer(services, logging.NewNop(), &Config{Host: "127.0.0.1", Port: 8080, Version: "test"},
		append([]Option{WithGatherer(reg), WithClock(now)}, opts...)...)
	require.NoError(t, err)
	return &testEnv{server: server, profiles: profiles, registry: reg}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.server.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		env := setupTestServer(t, generator(nil))
		server, err := NewServer(env.server.services, logging.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1", server.config.Host)
		assert.Equal(t, 8080, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		env := setupTestServer(t, generator(nil))
		_, err := NewServer(env.server.services, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when services are missing", func(t *testing.T) {
		_, err := NewServer(Services{}, logging.NewNop(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "workflows are required")
	})
}

func TestHandleHealth(t *testing.T) {
	env := setupTestServer(t, generator(nil))
	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)
}

func TestHandleOnboarding(t *testing.T) {
	t.Run("runs the debate and tracks the resolution", func(t *testing.T) {
		env := setupTestServer(t, generator(nil))
		rec := env.do(t, http.MethodPost, "/api/v1/onboarding", OnboardingRequest{
			UserID:         "u1",
			ResolutionText: "run a 5k",
			PastAttempts:   "stopped after two weeks",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		resp := decode[OnboardingResponse](t, rec)
		assert.Equal(t, workflows.NameOnboarding, resp.Pipeline)
		assert.NotEmpty(t, resp.RunID)
		assert.Equal(t, workflows.RunCompleted, resp.Status)
		assert.Empty(t, resp.Errors)
		assert.Empty(t, resp.Error)
		require.NotNil(t, resp.Resolution)
		assert.Equal(t, 3, resp.Resolution.WorkoutsTarget)

		stored, err := env.profiles.ActiveResolution(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, resp.Resolution.ID, stored.ID)
	})

	t.Run("does not track a degraded run", func(t *testing.T) {
		failing := agent.GeneratorFunc(func(context.Context, string, string, agent.Options) (string, error) {
			return "", errors.New("model unavailable")
		})
		env := setupTestServer(t, failing)
		rec := env.do(t, http.MethodPost, "/api/v1/onboarding", OnboardingRequest{UserID: "u1", ResolutionText: "run a 5k"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		resp := decode[OnboardingResponse](t, rec)
		assert.Equal(t, workflows.RunDegraded, resp.Status)
		require.NotEmpty(t, resp.Errors)
		assert.Contains(t, resp.Error, "goal_setting: ")
		assert.Contains(t, resp.Error, "model unavailable")
		assert.Nil(t, resp.Resolution)

		_, err := env.profiles.ActiveResolution(context.Background(), "u1")
		assert.ErrorIs(t, err, profile.ErrNotFound)
	})

	t.Run("rejects a missing resolution text", func(t *testing.T) {
		env := setupTestServer(t, generator(nil))
		rec := env.do(t, http.MethodPost, "/api/v1/onboarding", OnboardingRequest{UserID: "u1"})
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		resp := decode[OnboardingResponse](t, rec)
		assert.Equal(t, workflows.RunRejected, resp.Status)
		require.NotEmpty(t, resp.Errors)
		assert.Contains(t, resp.Errors[len(resp.Errors)-1], "resolution_text")
		assert.Nil(t, resp.Resolution)
	})

	t.Run("requires user_id", func(t *testing.T) {
		env := setupTestServer(t, generator(nil))
		rec := env.do(t, http.MethodPost, "/api/v1/onboarding", OnboardingRequest{ResolutionText: "run"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		env := setupTestServer(t, generator(nil))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/onboarding", strings.NewReader("{not json"))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		env.server.echo.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleDailyCheck(t *testing.T) {
	env := setupTestServer(t, generator(nil))
	ctx := context.Background()
	require.NoError(t, env.profiles.SaveProfile(ctx, &profile.Profile{UserID: "u1", PrimaryGoal: "fitness"}))

	rec := env.do(t, http.MethodPost, "/api/v1/daily-check", DailyCheckRequest{
		UserID:  "u1",
		CheckIn: profile.CheckIn{SleepQuality: 4, EnergyLevel: "high", StressLevel: "low"},
		Name:    "Sam",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[RunResponse](t, rec)
	assert.Equal(t, workflows.NameDailyCheck, resp.Pipeline)
	assert.NotEqual(t, workflows.RunRejected, resp.Status)

	rec = env.do(t, http.MethodGet, "/api/v1/users/u1/plans", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	plans := decode[[]profile.DailyPlan](t, rec)
	require.Len(t, plans, 1)
	assert.Equal(t, "2026-01-12", plans[0].Day)
}

func TestHandleDailyCheck_BadDay(t *testing.T) {
	env := setupTestServer(t, generator(nil))
	rec := env.do(t, http.MethodPost, "/api/v1/daily-check", DailyCheckRequest{UserID: "u1", Day: "12/01/2026"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleIntervention(t *testing.T) {
	env := setupTestServer(t, generator(nil))
	rec := env.do(t, http.MethodPost, "/api/v1/intervention", InterventionRequest{
		UserID:                 "u1",
		MissedWorkouts:         3,
		CurrentWeek:            4,
		AbandonmentProbability: 0.8,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[RunResponse](t, rec)
	assert.Equal(t, workflows.NameIntervention, resp.Pipeline)
	result, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 3, result["missed_workouts"])
}

func TestHandleResolutionReview(t *testing.T) {
	env := setupTestServer(t, generator(nil))
	rec := env.do(t, http.MethodPost, "/api/v1/resolution/review", ResolutionReviewRequest{UserID: "u1"})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[RunResponse](t, rec)
	assert.Equal(t, workflows.RunDegraded, resp.Status)
	require.NotEmpty(t, resp.Errors)
	assert.True(t, strings.HasPrefix(resp.Errors[0], "fetch_data: "), resp.Errors[0])
	assert.Contains(t, resp.Error, "fetch_data: ")
}

func TestHandleProfile(t *testing.T) {
	env := setupTestServer(t, generator(nil))

	rec := env.do(t, http.MethodGet, "/api/v1/users/u1/profile", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/v1/users/u1/profile", profile.Profile{UserID: "ignored", Age: 41, Occupation: "nurse"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/users/u1/profile", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[profile.Profile](t, rec)
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, 41, p.Age)
	assert.Equal(t, "nurse", p.Occupation)
	assert.True(t, fixedNow.Equal(p.UpdatedAt))
}

func TestHandleChat(t *testing.T) {
	env := setupTestServer(t, generator(nil))

	rec := env.do(t, http.MethodPost, "/api/v1/chat/send", ChatRequest{UserID: "u1", Message: "I want to get fit", Stage: chat.StageOnboarding})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	reply := decode[chat.Reply](t, rec)
	assert.Equal(t, "Great start! What time of day suits you?", reply.Message)
	assert.Equal(t, chat.StageOnboarding, reply.Stage)
	assert.Equal(t, "fitness", reply.Data["primary_goal"])

	rec = env.do(t, http.MethodGet, "/api/v1/chat/history?user_id=u1&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[struct {
		Messages []session.Message `json:"messages"`
		Count    int               `json:"count"`
	}](t, rec)
	require.Equal(t, 1, history.Count)
	assert.Equal(t, session.RoleAssistant, history.Messages[0].Role)

	rec = env.do(t, http.MethodDelete, "/api/v1/chat/history?user_id=u1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/chat/history?user_id=u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":0`)
}

func TestHandleChat_Errors(t *testing.T) {
	env := setupTestServer(t, generator(errors.New("upstream 503")))

	rec := env.do(t, http.MethodPost, "/api/v1/chat/send", ChatRequest{UserID: "u1", Message: " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/chat/send", ChatRequest{UserID: "u1", Message: "hello"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/chat/history", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/chat/history?user_id=u1&limit=-2", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/chat/send", ChatRequest{UserID: "u1;drop", Message: "hello"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid user_id")
}

func TestHandleSweepAndStatus(t *testing.T) {
	env := setupTestServer(t, generator(nil))
	ctx := context.Background()
	require.NoError(t, env.profiles.SaveResolution(ctx, &profile.Resolution{
		ID: "r1", UserID: "u1", Text: "run", Status: profile.StatusActive,
		WeeklyTarget: "3x/week", AdherenceRate: 0.2, AbandonmentProbability: 0.9, CreatedAt: fixedNow,
	}))

	rec := env.do(t, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[StatusResponse](t, rec)
	assert.Equal(t, "test", status.Version)
	assert.Equal(t, "enabled", status.Services["monitor"])
	assert.Equal(t, 1, status.Counts.AtRiskResolutions)

	rec = env.do(t, http.MethodPost, "/api/v1/monitor/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sum := decode[monitor.Summary](t, rec)
	assert.Equal(t, 1, sum.AtRisk)
	assert.Equal(t, 1, sum.Applied+sum.Degraded)

	rec = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "coachd_monitor_sweeps_total 1")
}

func TestCountAtRisk(t *testing.T) {
	assert.Equal(t, -1, CountAtRisk(context.Background(), nil, nil))
	assert.Equal(t, 0, CountAtRisk(context.Background(), profile.NewMemStore(), nil))
}
