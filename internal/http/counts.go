package http

import (
	"context"

	"github.com/fyrsmithlabs/coachd/internal/logging"
	"github.com/fyrsmithlabs/coachd/internal/monitor"
	"github.com/fyrsmithlabs/coachd/internal/profile"
	"go.uber.org/zap"
)

// CountAtRisk counts the resolutions the monitor would intervene on.
// The monitor's thresholds are used when m is set, the defaults otherwise.
//
// Returns -1 if store is nil or listing fails.
func CountAtRisk(ctx context.Context, store profile.Store, m *monitor.Monitor) int {
	if store == nil {
		return -1
	}

	adherence, abandonment := monitor.DefaultAdherenceThreshold, monitor.DefaultAbandonmentThreshold
	if m != nil {
		adherence, abandonment = m.Thresholds()
	}

	atRisk, err := store.AtRiskResolutions(ctx, adherence, abandonment)
	if err != nil {
		logging.FromContext(ctx).Warn(ctx, "count at-risk resolutions", zap.Error(err))
		return -1
	}
	return len(atRisk)
}
