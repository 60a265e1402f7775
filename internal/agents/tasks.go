package agents

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/coachd/internal/agent"
	"github.com/fyrsmithlabs/coachd/internal/profile"
)

// TaskGeneration turns a daily plan into the user's task list.
type TaskGeneration struct {
	agent *agent.Agent
}

func NewTaskGeneration(gen agent.Generator) *TaskGeneration {
	a := agent.New(TaskGenerationName,
		"Writes the day's actionable tasks",
		"turning health plans into concrete daily actions", gen)
	return &TaskGeneration{agent: a}
}

// TaskInput is the plan to turn into tasks.
type TaskInput struct {
	Goal    string
	Plan    DailyPlan
	Profile *profile.Profile
}

// TaskList is the validated task list.
type TaskList struct {
	Tasks    []Task   `json:"tasks"`
	Rejected []string `json:"rejected"`
	// Fallback is set when the plan's own tasks were used.
	Fallback bool `json:"fallback"`
}

type taskReply struct {
	Tasks []Task `json:"tasks"`
}

const taskSystem = `
Turn today's plan into 4 to 8 concrete tasks.
Each task must be specific, time-bound and tied to the user's primary goal.

Respond with JSON:
{
  "tasks": [
    {"time": "morning|HH:MM AM/PM", "category": "workout|nutrition|sleep|stress|recovery", "task": "what to do", "priority": "critical|high|medium|low"}
  ]
}`

// Generate writes tasks for in.Plan. Tasks that touch out-of-scope topics
// are dropped. When generation fails or nothing survives, the plan's own
// tasks are used.
func (t *TaskGeneration) Generate(ctx context.Context, in TaskInput) (TaskList, error) {
	goal := orDefault(in.Goal, in.Plan.GoalType)
	user := fmt.Sprintf("Primary goal: %s\n\nPLAN:\n%s\n\nBriefing:\n%s",
		goal, agent.Indent(in.Plan.PrimaryFocus), in.Plan.Briefing)
	user = withContext(user, t.agent.Context(in.Profile))

	out := TaskList{Rejected: []string{}}
	raw, err := t.agent.Generate(ctx, t.agent.SystemPrompt(taskSystem), user, agent.Options{Temperature: 0.4, MaxTokens: 1000})
	if err != nil {
		out.Tasks, out.Fallback = in.Plan.Tasks, true
		return out, err
	}

	reply, unparsed := agent.Decode[taskReply](raw)
	if unparsed == nil {
		for _, task := range reply.Tasks {
			if task.Task == "" {
				continue
			}
			if v := agent.ValidateTask(task.Task, goal); !v.Approved {
				out.Rejected = append(out.Rejected, task.Task)
				continue
			}
			if task.Priority == "" {
				task.Priority = "medium"
			}
			out.Tasks = append(out.Tasks, task)
		}
	}
	if len(out.Tasks) == 0 {
		out.Tasks, out.Fallback = in.Plan.Tasks, true
	}
	return out, nil
}
