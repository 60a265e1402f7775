package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/chat"
	"github.com/fyrsmithlabs/coachd/internal/logging"
	"github.com/fyrsmithlabs/coachd/internal/pipeline"
	"github.com/fyrsmithlabs/coachd/internal/profile"
	"github.com/fyrsmithlabs/coachd/internal/sanitize"
	"github.com/fyrsmithlabs/coachd/internal/session"
	"github.com/fyrsmithlabs/coachd/internal/workflows"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const defaultHistoryLimit = 20

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	services := map[string]string{"monitor": "disabled"}
	for k, v := range s.config.Backends {
		services[k] = v
	}
	if s.services.Monitor != nil {
		services["monitor"] = "enabled"
	}
	return c.JSON(http.StatusOK, StatusResponse{
		Status:   "ok",
		Version:  s.config.Version,
		Services: services,
		Counts: StatusCounts{
			AtRiskResolutions: CountAtRisk(c.Request().Context(), s.services.Profiles, s.services.Monitor),
		},
	})
}

// bind decodes the body and validates the user ID in place.
func bind[T any](c echo.Context, userID func(*T) *string) (T, error) {
	var req T
	if err := c.Bind(&req); err != nil {
		logging.FromContext(c.Request().Context()).Warn(c.Request().Context(), "invalid request", zap.Error(err))
		return req, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	id, err := validUser(*userID(&req))
	if err != nil {
		return req, err
	}
	*userID(&req) = id
	return req, nil
}

// validUser maps sanitize errors onto 400s.
func validUser(raw string) (string, error) {
	id, err := sanitize.UserID(raw)
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return id, nil
}

// runResponse renders a finished run and counts it. Rejected runs answer 422.
// Degraded runs answer 200 with the joined step failures in Error.
func (s *Server) runResponse(ctx context.Context, report *pipeline.Report, final runState) (int, RunResponse) {
	code := http.StatusOK
	if report.Rejected != nil {
		code = http.StatusUnprocessableEntity
	}
	errs := final.ErrorList()
	if errs == nil {
		errs = []string{}
	}
	status := workflows.RunStatus(report, errs)
	s.metrics.recordRun(ctx, report.Pipeline, status)

	resp := RunResponse{
		Pipeline: report.Pipeline,
		RunID:    report.RunID,
		Status:   status,
		Steps:    report.Steps,
		Errors:   errs,
		Result:   final,
	}
	if err := pipeline.Err(final); err != nil {
		resp.Error = err.Error()
		logging.FromContext(ctx).Warn(ctx, "workflow run did not complete",
			zap.String("pipeline", report.Pipeline),
			zap.String("run_id", report.RunID),
			zap.String("status", status),
			zap.Error(err))
	}
	return code, resp
}

// runState is any workflow state.
type runState interface {
	ErrorList() []string
}

func (s *Server) handleOnboarding(c echo.Context) error {
	req, err := bind(c, func(r *OnboardingRequest) *string { return &r.UserID })
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	initial := workflows.NewOnboardingState(req.UserID, req.ResolutionText, req.PastAttempts)
	initial.Constraints = req.Constraints
	final, report := s.services.Onboarding.Run(ctx, initial)

	code, run := s.runResponse(ctx, report, final)
	resp := OnboardingResponse{RunResponse: run}
	// Only a completed run is tracked.
	if r, ok := workflows.NewResolution(final); ok {
		if err := s.services.Profiles.SaveResolution(ctx, r); err != nil {
			logging.FromContext(ctx).Error(ctx, "save resolution", zap.String("user_id", req.UserID), zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to save resolution")
		}
		resp.Resolution = r
	}
	return c.JSON(code, resp)
}

func (s *Server) handleDailyCheck(c echo.Context) error {
	req, err := bind(c, func(r *DailyCheckRequest) *string { return &r.UserID })
	if err != nil {
		return err
	}

	day := s.now().UTC()
	if req.Day != "" {
		day, err = time.Parse(time.DateOnly, req.Day)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "day must be YYYY-MM-DD")
		}
	}

	initial := workflows.NewDailyCheckState(req.UserID, req.CheckIn, day)
	initial.Name = req.Name
	initial.Events = req.Events
	final, report := s.services.DailyCheck.Run(c.Request().Context(), initial)

	code, run := s.runResponse(c.Request().Context(), report, final)
	return c.JSON(code, run)
}

func (s *Server) handleIntervention(c echo.Context) error {
	req, err := bind(c, func(r *InterventionRequest) *string { return &r.UserID })
	if err != nil {
		return err
	}

	initial := workflows.NewInterventionState(req.UserID, req.MissedWorkouts, req.DaysInactive)
	initial.CurrentWeek = req.CurrentWeek
	initial.AbandonmentProbability = req.AbandonmentProbability
	final, report := s.services.Intervention.Run(c.Request().Context(), initial)

	code, run := s.runResponse(c.Request().Context(), report, final)
	return c.JSON(code, run)
}

func (s *Server) handleResolutionReview(c echo.Context) error {
	req, err := bind(c, func(r *ResolutionReviewRequest) *string { return &r.UserID })
	if err != nil {
		return err
	}

	final, report := s.services.Resolution.Run(c.Request().Context(), workflows.NewResolutionState(req.UserID, req.SkipPattern))

	code, run := s.runResponse(c.Request().Context(), report, final)
	return c.JSON(code, run)
}

func (s *Server) handleGetProfile(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := validUser(c.Param("user_id"))
	if err != nil {
		return err
	}
	p, err := s.services.Profiles.Profile(ctx, userID)
	if errors.Is(err, profile.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "profile not found")
	}
	if err != nil {
		logging.FromContext(ctx).Error(ctx, "load profile", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load profile")
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handlePutProfile(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := validUser(c.Param("user_id"))
	if err != nil {
		return err
	}
	var p profile.Profile
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p.UserID = userID
	p.UpdatedAt = s.now().UTC()
	if err := s.services.Profiles.SaveProfile(ctx, &p); err != nil {
		logging.FromContext(ctx).Error(ctx, "save profile", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save profile")
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handlePlans(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := validUser(c.Param("user_id"))
	if err != nil {
		return err
	}
	limit, err := queryLimit(c, 7)
	if err != nil {
		return err
	}
	plans, err := s.services.Profiles.DailyPlans(ctx, userID, limit)
	if err != nil {
		logging.FromContext(ctx).Error(ctx, "list daily plans", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list daily plans")
	}
	if plans == nil {
		plans = []profile.DailyPlan{}
	}
	return c.JSON(http.StatusOK, plans)
}

func (s *Server) handleChatSend(c echo.Context) error {
	req, err := bind(c, func(r *ChatRequest) *string { return &r.UserID })
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	reply, err := s.services.Chat.Respond(ctx, chat.Request{
		UserID:    req.UserID,
		Message:   req.Message,
		Stage:     req.Stage,
		Extracted: req.Extracted,
	})
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return echo.NewHTTPError(http.StatusBadRequest, "message field is required")
	case err != nil:
		logging.FromContext(ctx).Error(ctx, "chat reply failed", zap.String("user_id", req.UserID), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "failed to generate reply")
	}
	return c.JSON(http.StatusOK, reply)
}

func (s *Server) handleChatHistory(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := validUser(c.QueryParam("user_id"))
	if err != nil {
		return err
	}
	limit, err := queryLimit(c, defaultHistoryLimit)
	if err != nil {
		return err
	}
	msgs, err := s.services.Chat.History(ctx, userID, limit)
	if err != nil {
		logging.FromContext(ctx).Error(ctx, "load chat history", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load history")
	}
	if msgs == nil {
		msgs = []session.Message{}
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": msgs, "count": len(msgs)})
}

func (s *Server) handleChatClear(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := validUser(c.QueryParam("user_id"))
	if err != nil {
		return err
	}
	if err := s.services.Chat.Clear(ctx, userID); err != nil {
		logging.FromContext(ctx).Error(ctx, "clear chat history", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to clear history")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSweep(c echo.Context) error {
	ctx := c.Request().Context()
	sum, err := s.services.Monitor.Sweep(ctx)
	if err != nil {
		logging.FromContext(ctx).Error(ctx, "manual sweep failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "sweep failed")
	}
	return c.JSON(http.StatusOK, sum)
}

func queryLimit(c echo.Context, def int) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
	}
	return n, nil
}
