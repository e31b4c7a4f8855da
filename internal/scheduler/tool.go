package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/opentalon/idpportal/internal/actor"
	"github.com/opentalon/idpportal/internal/orchestrator"
	"github.com/opentalon/idpportal/internal/provider"
)

const AgentName = "scheduler"

const charter = `You manage recurring IDP Portal tasks. A scheduled job sends its message to the supervisor on a cron schedule (five fields, or descriptors such as @hourly and @daily) and can post the answer to a Slack channel.
Always confirm the exact schedule with the user's wording before creating a job.
Config-defined jobs can be paused and resumed but never deleted or changed.`

// Entry registers the scheduler agent for sched.
func Entry(sched *Scheduler) orchestrator.Entry {
	return orchestrator.Entry{Name: AgentName, New: Constructor(sched)}
}

// Constructor builds the agent that lets users manage scheduled jobs in
// conversation.
func Constructor(sched *Scheduler) orchestrator.Constructor {
	return func(env *orchestrator.Env) (orchestrator.Handler, error) {
		if sched == nil {
			return nil, errors.New("scheduler is not running")
		}
		t := &jobTools{sched: sched}
		manifest := orchestrator.CapabilityManifest{
			Name:        AgentName,
			Description: "Creates, lists, pauses, resumes, updates and deletes scheduled supervisor runs",
			Capabilities: []orchestrator.Capability{
				{Name: "job_management", Description: "Manage recurring jobs", Tools: []string{"create_job", "list_jobs", "delete_job", "update_job"}},
				{Name: "job_control", Description: "Pause, resume or trigger jobs", Tools: []string{"pause_job", "resume_job", "run_job"}},
			},
		}
		return orchestrator.NewToolAgent(env, manifest, charter, t.tools()...), nil
	}
}

type jobTools struct {
	sched *Scheduler
}

func (t *jobTools) tools() []orchestrator.Tool {
	name := provider.Parameter{Name: "name", Type: provider.TypeString, Description: "Job name (slug)", Required: true}
	return []orchestrator.Tool{
		orchestrator.NewTool("create_job", "Create a scheduled job. Requires user approval before calling.", []provider.Parameter{
			name,
			{Name: "schedule", Type: provider.TypeString, Description: "Cron expression, e.g. 0 9 * * 1-5 or @daily", Required: true},
			{Name: "message", Type: provider.TypeString, Description: "Request sent to the supervisor on each run", Required: true},
			{Name: "notify_channel", Type: provider.TypeString, Description: "Slack channel for the result"},
		}, t.create),
		orchestrator.NewTool("list_jobs", "List all scheduled jobs with their status, source and creator", nil, t.list),
		orchestrator.NewTool("delete_job", "Delete a dynamic job. Config-defined jobs cannot be deleted.", []provider.Parameter{name}, t.delete),
		orchestrator.NewTool("pause_job", "Pause a scheduled job", []provider.Parameter{name}, t.pause),
		orchestrator.NewTool("resume_job", "Resume a paused job", []provider.Parameter{name}, t.resume),
		orchestrator.NewTool("update_job", "Change the schedule or notify channel of a dynamic job", []provider.Parameter{
			name,
			{Name: "schedule", Type: provider.TypeString, Description: "New cron expression"},
			{Name: "notify_channel", Type: provider.TypeString, Description: "New Slack channel"},
		}, t.update),
		orchestrator.NewTool("run_job", "Run a job once right now", []provider.Parameter{name}, t.runNow),
	}
}

// requester is the user the supervisor is acting for.
func requester(ctx context.Context) string {
	if who, ok := orchestrator.TaskContext(ctx)["actor"].(string); ok && who != "" {
		return who
	}
	return actor.Actor(ctx)
}

func (t *jobTools) create(ctx context.Context, args map[string]any) (any, error) {
	job := Job{
		Name:          orchestrator.String(args, "name", ""),
		Schedule:      orchestrator.String(args, "schedule", ""),
		Message:       orchestrator.String(args, "message", ""),
		NotifyChannel: orchestrator.String(args, "notify_channel", ""),
	}
	if err := t.sched.AddJob(job, requester(ctx)); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Job %q created: runs %q on schedule %s", job.Name, job.Message, job.Schedule), nil
}

func (t *jobTools) list(_ context.Context, _ map[string]any) (any, error) {
	jobs := t.sched.ListJobs()
	if len(jobs) == 0 {
		return "No scheduled jobs.", nil
	}
	return jobs, nil
}

func (t *jobTools) delete(ctx context.Context, args map[string]any) (any, error) {
	name := orchestrator.String(args, "name", "")
	if err := t.sched.RemoveJob(name, requester(ctx)); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Job %q deleted.", name), nil
}

func (t *jobTools) pause(_ context.Context, args map[string]any) (any, error) {
	name := orchestrator.String(args, "name", "")
	if err := t.sched.PauseJob(name); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Job %q paused.", name), nil
}

func (t *jobTools) resume(_ context.Context, args map[string]any) (any, error) {
	name := orchestrator.String(args, "name", "")
	if err := t.sched.ResumeJob(name); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Job %q resumed.", name), nil
}

func (t *jobTools) update(ctx context.Context, args map[string]any) (any, error) {
	name := orchestrator.String(args, "name", "")
	var schedule, notifyChannel *string
	if v := orchestrator.String(args, "schedule", ""); v != "" {
		schedule = &v
	}
	if v := orchestrator.String(args, "notify_channel", ""); v != "" {
		notifyChannel = &v
	}
	if schedule == nil && notifyChannel == nil {
		return nil, errors.New("at least schedule or notify_channel must be provided")
	}
	if err := t.sched.UpdateJob(name, requester(ctx), schedule, notifyChannel); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Job %q updated.", name), nil
}

// runNow starts the job in the background; running it inline would nest a
// supervisor run inside the current one.
func (t *jobTools) runNow(_ context.Context, args map[string]any) (any, error) {
	name := orchestrator.String(args, "name", "")
	if err := t.sched.RunInBackground(name); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Job %q started.", name), nil
}
