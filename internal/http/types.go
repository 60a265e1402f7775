package http

import (
	"github.com/fyrsmithlabs/coachd/internal/agents"
	"github.com/fyrsmithlabs/coachd/internal/pipeline"
	"github.com/fyrsmithlabs/coachd/internal/profile"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version,omitempty"`
	Services map[string]string `json:"services"`
	Counts   StatusCounts      `json:"counts"`
}

// StatusCounts holds resource counts. -1 means the count is unavailable.
type StatusCounts struct {
	AtRiskResolutions int `json:"at_risk_resolutions"`
}

// RunResponse describes one finished workflow run. Error joins Errors into
// one message and is empty for a completed run.
type RunResponse struct {
	Pipeline string                `json:"pipeline"`
	RunID    string                `json:"run_id"`
	Status   string                `json:"status"`
	Steps    []pipeline.StepResult `json:"steps"`
	Errors   []string              `json:"errors"`
	Error    string                `json:"error,omitempty"`
	Result   any                   `json:"result"`
}

// OnboardingRequest is the request body for POST /api/v1/onboarding.
type OnboardingRequest struct {
	UserID         string   `json:"user_id"`
	ResolutionText string   `json:"resolution_text"`
	PastAttempts   string   `json:"past_attempts"`
	Constraints    []string `json:"constraints"`
}

// OnboardingResponse adds the tracked resolution to the run.
type OnboardingResponse struct {
	RunResponse
	Resolution *profile.Resolution `json:"resolution,omitempty"`
}

// DailyCheckRequest is the request body for POST /api/v1/daily-check.
type DailyCheckRequest struct {
	UserID  string          `json:"user_id"`
	CheckIn profile.CheckIn `json:"check_in"`
	// Day is YYYY-MM-DD; empty means today.
	Day    string         `json:"day"`
	Name   string         `json:"name"`
	Events []agents.Event `json:"calendar_events"`
}

// InterventionRequest is the request body for POST /api/v1/intervention.
type InterventionRequest struct {
	UserID                 string  `json:"user_id"`
	MissedWorkouts         int     `json:"missed_workouts"`
	DaysInactive           int     `json:"days_inactive"`
	CurrentWeek            int     `json:"current_week"`
	AbandonmentProbability float64 `json:"abandonment_probability"`
}

// ResolutionReviewRequest is the request body for POST /api/v1/resolution/review.
type ResolutionReviewRequest struct {
	UserID      string `json:"user_id"`
	SkipPattern []bool `json:"skip_pattern"`
}

// ChatRequest is the request body for POST /api/v1/chat/send.
type ChatRequest struct {
	UserID    string         `json:"user_id"`
	Message   string         `json:"message"`
	Stage     string         `json:"stage"`
	Extracted map[string]any `json:"extracted_data"`
}
