package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/pipeline"
	"github.com/fyrsmithlabs/coachd/internal/profile"
	"github.com/fyrsmithlabs/coachd/internal/sanitize"
	"github.com/fyrsmithlabs/coachd/internal/workflows"
	"github.com/spf13/cobra"
)

// runFlags are the inputs of a one-off workflow run.
type runFlags struct {
	userID       string
	resolution   string
	pastAttempts string
	constraints  []string

	sleepQuality int
	energy       string
	stress       string
	soreness     string
	mood         string
	day          string

	missed       int
	daysInactive int
	currentWeek  int
	abandonment  float64

	skipPattern []bool
}

// runOutput is printed as indented JSON.
type runOutput struct {
	Pipeline string                `json:"pipeline"`
	RunID    string                `json:"run_id"`
	Status   string                `json:"status"`
	Steps    []pipeline.StepResult `json:"steps"`
	Errors   []string              `json:"errors,omitempty"`
	Result   any                   `json:"result"`
}

// runState is any workflow state.
type runState interface {
	ErrorList() []string
}

func newRunCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <onboarding|daily-check|intervention|resolution>",
		Short: "Run one workflow and print the result",
		Long: `Run a single workflow against the configured backends and print the final
state as JSON. The command fails when the run is rejected or any step failed.

Examples:
  coachd run onboarding --user u1 --resolution "lose 20 lbs" --past-attempts "quit at week 4"
  coachd run daily-check --user u1 --sleep-quality 2 --stress high
  coachd run intervention --user u1 --missed 3 --days-inactive 5
  coachd run resolution --user u1 --skip-pattern true,true,false`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"onboarding", "daily-check", "intervention", "resolution"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return runWorkflow(cmd.Context(), a, args[0], f, cmd.OutOrStdout())
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.userID, "user", "", "user ID (required)")
	fl.StringVar(&f.resolution, "resolution", "", "resolution text (onboarding)")
	fl.StringVar(&f.pastAttempts, "past-attempts", "", "past attempts (onboarding)")
	fl.StringSliceVar(&f.constraints, "constraint", nil, "constraint, repeatable (onboarding)")
	fl.IntVar(&f.sleepQuality, "sleep-quality", 3, "sleep quality 1-5 (daily-check)")
	fl.StringVar(&f.energy, "energy", "", "energy level (daily-check)")
	fl.StringVar(&f.stress, "stress", "", "stress level (daily-check)")
	fl.StringVar(&f.soreness, "soreness", "", "soreness level (daily-check)")
	fl.StringVar(&f.mood, "mood", "", "mood (daily-check)")
	fl.StringVar(&f.day, "day", "", "day as YYYY-MM-DD, default today (daily-check)")
	fl.IntVar(&f.missed, "missed", 0, "missed workouts (intervention)")
	fl.IntVar(&f.daysInactive, "days-inactive", 0, "days since last activity (intervention)")
	fl.IntVar(&f.currentWeek, "week", 0, "current program week (intervention)")
	fl.Float64Var(&f.abandonment, "abandonment", 0, "abandonment probability (intervention)")
	fl.BoolSliceVar(&f.skipPattern, "skip-pattern", nil, "recent days, true = skipped (resolution)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runWorkflow(ctx context.Context, a *app, name string, f *runFlags, out io.Writer) error {
	userID, err := sanitize.UserID(f.userID)
	if err != nil {
		return fmt.Errorf("--user: %w", err)
	}
	f.userID = userID

	var (
		final  runState
		report *pipeline.Report
	)

	switch name {
	case "onboarding":
		initial := workflows.NewOnboardingState(f.userID, f.resolution, f.pastAttempts)
		initial.Constraints = f.constraints
		s, r := a.onboarding.Run(ctx, initial)
		if res, ok := workflows.NewResolution(s); ok {
			if err := a.profiles.SaveResolution(ctx, res); err != nil {
				return fmt.Errorf("save resolution: %w", err)
			}
		}
		final, report = s, r

	case "daily-check":
		day := time.Now().UTC()
		if f.day != "" {
			if day, err = time.Parse(time.DateOnly, f.day); err != nil {
				return fmt.Errorf("--day: %w", err)
			}
		}
		checkIn := profile.CheckIn{
			SleepQuality:  f.sleepQuality,
			EnergyLevel:   f.energy,
			StressLevel:   f.stress,
			SorenessLevel: f.soreness,
			Mood:          f.mood,
		}
		final, report = a.dailyCheck.Run(ctx, workflows.NewDailyCheckState(f.userID, checkIn, day))

	case "intervention":
		initial := workflows.NewInterventionState(f.userID, f.missed, f.daysInactive)
		initial.CurrentWeek = f.currentWeek
		initial.AbandonmentProbability = f.abandonment
		final, report = a.intervention.Run(ctx, initial)

	case "resolution":
		final, report = a.resolution.Run(ctx, workflows.NewResolutionState(f.userID, f.skipPattern))

	default:
		return fmt.Errorf("unknown workflow %q", name)
	}

	return writeRun(out, report, final)
}

// writeRun prints the run and returns the rejection, or the joined step
// failures of a degraded run.
func writeRun(out io.Writer, report *pipeline.Report, final runState) error {
	errs := final.ErrorList()
	status := workflows.RunStatus(report, errs)
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(runOutput{
		Pipeline: report.Pipeline,
		RunID:    report.RunID,
		Status:   status,
		Steps:    report.Steps,
		Errors:   errs,
		Result:   final,
	}); err != nil {
		return err
	}
	if report.Rejected != nil {
		return report.Rejected
	}
	if err := pipeline.Err(final); err != nil {
		return fmt.Errorf("%s run %s: %w", report.Pipeline, status, err)
	}
	return nil
}
