package agents

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/opentalon/idpportal/internal/agents/rest"
	"github.com/opentalon/idpportal/internal/orchestrator"
	"github.com/opentalon/idpportal/internal/provider"
)

const jiraAPI = "/rest/api/3"

const jiraCharter = `You are a Jira project management agent for the IDP Portal.
You create and search issues with JQL, transition issues between statuses, comment on issues and report active sprints.
Include the issue key and link in every answer about an issue.`

// NewJira builds the jira agent. Jira Cloud authenticates with email and
// API token over basic auth.
func NewJira(env *orchestrator.Env) (orchestrator.Handler, error) {
	cfg := backends(env).Jira
	if cfg.URL == "" || cfg.Email == "" || cfg.Token == "" {
		return nil, errors.New("jira url, email and token are required")
	}
	return newJira(env, rest.New("jira", cfg.URL, rest.WithBasicAuth(cfg.Email, cfg.Token))), nil
}

func newJira(env *orchestrator.Env, c *rest.Client) *orchestrator.ToolAgent {
	j := &jiraTools{c: c}
	manifest := orchestrator.CapabilityManifest{
		Name:        "jira",
		Description: "Manages Jira issues, transitions, comments and sprint boards",
		Capabilities: []orchestrator.Capability{
			{Name: "issue_management", Description: "Create, search, transition and comment on issues",
				Tools: []string{"create_jira_issue", "search_issues", "update_issue_status", "add_comment"}},
			{Name: "sprint_tracking", Description: "Report active sprints", Tools: []string{"get_sprint_board"}},
		},
	}
	key := required(str("issue_key", "Issue key, e.g. PLAT-123"))
	return orchestrator.NewToolAgent(env, manifest, jiraCharter,
		orchestrator.NewTool("create_jira_issue", "Create an issue in a project", []provider.Parameter{
			required(str("project_key", "Project key")), required(str("summary", "Summary")),
			str("description", "Description"), str("issue_type", "Issue type, default Task"),
		}, j.createIssue),
		orchestrator.NewTool("search_issues", "Search issues with a JQL query", []provider.Parameter{
			required(str("jql_query", "JQL query")), integer("max_results", "Maximum issues, default 10"),
		}, j.search),
		orchestrator.NewTool("update_issue_status", "Move an issue through a named workflow transition", []provider.Parameter{
			key, required(str("transition_name", "Transition name, e.g. In Progress")),
		}, j.transition),
		orchestrator.NewTool("get_sprint_board", "Get the active sprints of a board", []provider.Parameter{
			required(integer("board_id", "Board id")),
		}, j.sprints),
		orchestrator.NewTool("add_comment", "Comment on an issue", []provider.Parameter{
			key, required(str("comment_body", "Comment text")),
		}, j.comment),
	)
}

type jiraTools struct {
	c *rest.Client
}

// adf wraps plain text in an Atlassian Document Format paragraph.
func adf(text string) map[string]any {
	return map[string]any{
		"type":    "doc",
		"version": 1,
		"content": []any{map[string]any{
			"type":    "paragraph",
			"content": []any{map[string]any{"type": "text", "text": text}},
		}},
	}
}

func issuePath(args map[string]any) string {
	return jiraAPI + "/issue/" + url.PathEscape(orchestrator.String(args, "issue_key", ""))
}

func (j *jiraTools) createIssue(ctx context.Context, args map[string]any) (any, error) {
	fields := map[string]any{
		"project":   map[string]any{"key": orchestrator.String(args, "project_key", "")},
		"summary":   orchestrator.String(args, "summary", ""),
		"issuetype": map[string]any{"name": orchestrator.String(args, "issue_type", "Task")},
	}
	if d := orchestrator.String(args, "description", ""); d != "" {
		fields["description"] = adf(d)
	}
	var created struct {
		Key string `json:"key"`
	}
	if err := j.c.Post(ctx, jiraAPI+"/issue", map[string]any{"fields": fields}, &created); err != nil {
		return nil, err
	}
	return map[string]any{"key": created.Key, "url": j.c.BaseURL() + "/browse/" + created.Key}, nil
}

func (j *jiraTools) search(ctx context.Context, args map[string]any) (any, error) {
	limit, err := orchestrator.Int(args, "max_results", 10)
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"jql":        orchestrator.String(args, "jql_query", ""),
		"maxResults": limit,
		"fields":     []string{"summary", "status", "assignee", "priority"},
	}
	var res struct {
		Issues []struct {
			Key    string `json:"key"`
			Fields struct {
				Summary string `json:"summary"`
				Status  struct {
					Name string `json:"name"`
				} `json:"status"`
				Assignee *struct {
					DisplayName string `json:"displayName"`
				} `json:"assignee"`
				Priority *struct {
					Name string `json:"name"`
				} `json:"priority"`
			} `json:"fields"`
		} `json:"issues"`
	}
	if err := j.c.Post(ctx, jiraAPI+"/search", body, &res); err != nil {
		return nil, err
	}
	type issue struct {
		Key      string `json:"key"`
		Summary  string `json:"summary"`
		Status   string `json:"status"`
		Assignee string `json:"assignee"`
		Priority string `json:"priority,omitempty"`
	}
	out := make([]issue, 0, len(res.Issues))
	for _, i := range res.Issues {
		it := issue{Key: i.Key, Summary: i.Fields.Summary, Status: i.Fields.Status.Name, Assignee: "Unassigned"}
		if i.Fields.Assignee != nil {
			it.Assignee = i.Fields.Assignee.DisplayName
		}
		if i.Fields.Priority != nil {
			it.Priority = i.Fields.Priority.Name
		}
		out = append(out, it)
	}
	return out, nil
}

// transition looks the transition up by name. An unknown name is reported
// back with the available names instead of failing the call.
func (j *jiraTools) transition(ctx context.Context, args map[string]any) (any, error) {
	path := issuePath(args) + "/transitions"
	want := orchestrator.String(args, "transition_name", "")
	var res struct {
		Transitions []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"transitions"`
	}
	if err := j.c.Get(ctx, path, nil, &res); err != nil {
		return nil, err
	}
	available := make([]string, 0, len(res.Transitions))
	for _, t := range res.Transitions {
		if strings.EqualFold(t.Name, want) {
			if err := j.c.Post(ctx, path, map[string]any{"transition": map[string]string{"id": t.ID}}, nil); err != nil {
				return nil, err
			}
			return map[string]any{"key": orchestrator.String(args, "issue_key", ""), "new_status": t.Name}, nil
		}
		available = append(available, t.Name)
	}
	return map[string]any{"error": "transition " + strconv.Quote(want) + " not found", "available": available}, nil
}

func (j *jiraTools) sprints(ctx context.Context, args map[string]any) (any, error) {
	board, err := orchestrator.Int(args, "board_id", 0)
	if err != nil {
		return nil, err
	}
	var res struct {
		Values []struct {
			ID        int    `json:"id"`
			Name      string `json:"name"`
			State     string `json:"state"`
			StartDate string `json:"startDate"`
			EndDate   string `json:"endDate"`
		} `json:"values"`
	}
	path := "/rest/agile/1.0/board/" + strconv.Itoa(board) + "/sprint"
	if err := j.c.Get(ctx, path, url.Values{"state": {"active"}}, &res); err != nil {
		return nil, err
	}
	type sprint struct {
		ID    int    `json:"id"`
		Name  string `json:"name"`
		State string `json:"state"`
		Start string `json:"start"`
		End   string `json:"end"`
	}
	active := make([]sprint, 0, len(res.Values))
	for _, s := range res.Values {
		active = append(active, sprint{ID: s.ID, Name: s.Name, State: s.State, Start: s.StartDate, End: s.EndDate})
	}
	return map[string]any{"board_id": board, "active_sprints": active}, nil
}

func (j *jiraTools) comment(ctx context.Context, args map[string]any) (any, error) {
	var res struct {
		ID string `json:"id"`
	}
	body := map[string]any{"body": adf(orchestrator.String(args, "comment_body", ""))}
	if err := j.c.Post(ctx, issuePath(args)+"/comment", body, &res); err != nil {
		return nil, err
	}
	return map[string]any{"issue": orchestrator.String(args, "issue_key", ""), "comment_id": res.ID}, nil
}
