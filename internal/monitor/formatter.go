package monitor

import (
	"fmt"
	"strings"
	"time"
)

// FormatPercentage formats a ratio (0-1) as a percentage.
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// FormatDuration formats d as "Xh Ym", "Xm Ys" or "X.Xs".
func FormatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	case d >= time.Minute:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
}

// String renders the summary as one line followed by an indented line per
// intervention.
func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "swept %d at-risk resolution(s) in %s: %d applied, %d degraded, %d failed, %d skipped",
		s.AtRisk, FormatDuration(s.Duration), s.Applied, s.Degraded, s.Failed, s.Skipped)
	for _, o := range s.Outcomes {
		fmt.Fprintf(&b, "\n  %s %s", o.UserID, o.Result)
		if o.Result == ResultApplied || o.Result == ResultDegraded {
			fmt.Fprintf(&b, " abandonment %s -> %s", FormatPercentage(o.Before), FormatPercentage(o.After))
		}
		if o.Err != nil {
			fmt.Fprintf(&b, " (%v)", o.Err)
		}
	}
	return b.String()
}
