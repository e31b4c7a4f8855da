package agents

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/opentalon/idpportal/internal/agents/rest"
	"github.com/opentalon/idpportal/internal/config"
	"github.com/opentalon/idpportal/internal/orchestrator"
	"github.com/opentalon/idpportal/internal/provider"
)

const pagerdutyDefaultURL = "https://api.pagerduty.com"

const pagerdutyCharter = `You are a PagerDuty incident management agent for the IDP Portal.
You list, acknowledge, resolve and trigger incidents and report who is on call.
Confirm the incident id and current status before acknowledging or resolving it.`

// NewPagerDuty builds the pagerduty agent against the REST API v2.
func NewPagerDuty(env *orchestrator.Env) (orchestrator.Handler, error) {
	cfg := backends(env).PagerDuty
	if cfg.Token == "" {
		return nil, errors.New("pagerduty token is required")
	}
	base := cfg.URL
	if base == "" {
		base = pagerdutyDefaultURL
	}
	c := rest.New("pagerduty", base,
		rest.WithHeader("Authorization", "Token token="+cfg.Token),
		rest.WithHeader("Accept", "application/vnd.pagerduty+json;version=2"),
	)
	return newPagerDuty(env, c, cfg), nil
}

func newPagerDuty(env *orchestrator.Env, c *rest.Client, cfg config.PagerDutyConfig) *orchestrator.ToolAgent {
	p := &pagerdutyTools{c: c, cfg: cfg}
	manifest := orchestrator.CapabilityManifest{
		Name:        "pagerduty",
		Description: "Manages PagerDuty incidents and on-call schedules",
		Capabilities: []orchestrator.Capability{
			{Name: "incident_response", Description: "List, acknowledge, resolve and trigger incidents",
				Tools: []string{"list_incidents", "acknowledge_incident", "resolve_incident", "trigger_incident"}},
			{Name: "on_call", Description: "Report the current on-call users", Tools: []string{"get_on_call_schedule"}},
		},
	}
	id := required(str("incident_id", "Incident id"))
	service := str("service_id", "Service id")
	if cfg.ServiceID == "" {
		service = required(service)
	}
	return orchestrator.NewToolAgent(env, manifest, pagerdutyCharter,
		orchestrator.NewTool("list_incidents", "List incidents by status", []provider.Parameter{
			str("status", "Comma separated statuses, default triggered,acknowledged"),
			integer("limit", "Maximum incidents, default 10"),
		}, p.list),
		orchestrator.NewTool("acknowledge_incident", "Acknowledge an incident", []provider.Parameter{id}, p.acknowledge),
		orchestrator.NewTool("resolve_incident", "Resolve an incident", []provider.Parameter{id}, p.resolve),
		orchestrator.NewTool("get_on_call_schedule", "Get the users of an on-call schedule", []provider.Parameter{
			required(str("schedule_id", "Schedule id")),
		}, p.onCall),
		orchestrator.NewTool("trigger_incident", "Open a new incident", []provider.Parameter{
			service, required(str("title", "Title")), str("description", "Details"),
			str("urgency", "high or low, default high"),
		}, p.trigger),
	)
}

type pagerdutyTools struct {
	c   *rest.Client
	cfg config.PagerDutyConfig
}

type pdIncident struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	Urgency   string `json:"urgency"`
	CreatedAt string `json:"created_at"`
	HTMLURL   string `json:"html_url"`
	Service   struct {
		Summary string `json:"summary"`
	} `json:"service"`
}

// write sends a mutating request. PagerDuty requires a From header naming
// a valid user on every write.
func (p *pagerdutyTools) write(ctx context.Context, method, path string, in, out any) error {
	if p.cfg.From == "" {
		return errors.New("pagerduty from address is not configured")
	}
	return p.c.With(rest.WithHeader("From", p.cfg.From)).Do(ctx, method, path, nil, in, out)
}

func (p *pagerdutyTools) list(ctx context.Context, args map[string]any) (any, error) {
	limit, err := orchestrator.Int(args, "limit", 10)
	if err != nil {
		return nil, err
	}
	q := url.Values{"limit": {strconv.Itoa(limit)}, "sort_by": {"created_at:desc"}}
	for _, s := range strings.Split(orchestrator.String(args, "status", "triggered,acknowledged"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			q.Add("statuses[]", s)
		}
	}
	var res struct {
		Incidents []pdIncident `json:"incidents"`
	}
	if err := p.c.Get(ctx, "/incidents", q, &res); err != nil {
		return nil, err
	}
	type incident struct {
		ID        string `json:"id"`
		Title     string `json:"title"`
		Status    string `json:"status"`
		Urgency   string `json:"urgency"`
		Service   string `json:"service"`
		CreatedAt string `json:"created_at"`
		URL       string `json:"url"`
	}
	out := make([]incident, 0, len(res.Incidents))
	for _, i := range res.Incidents {
		out = append(out, incident{ID: i.ID, Title: i.Title, Status: i.Status, Urgency: i.Urgency,
			Service: i.Service.Summary, CreatedAt: i.CreatedAt, URL: i.HTMLURL})
	}
	return out, nil
}

func (p *pagerdutyTools) setStatus(ctx context.Context, args map[string]any, status string) (any, error) {
	id := orchestrator.String(args, "incident_id", "")
	body := map[string]any{"incident": map[string]string{"type": "incident_reference", "status": status}}
	if err := p.write(ctx, http.MethodPut, "/incidents/"+url.PathEscape(id), body, nil); err != nil {
		return nil, err
	}
	return map[string]any{"id": id, "status": status}, nil
}

func (p *pagerdutyTools) acknowledge(ctx context.Context, args map[string]any) (any, error) {
	return p.setStatus(ctx, args, "acknowledged")
}

func (p *pagerdutyTools) resolve(ctx context.Context, args map[string]any) (any, error) {
	return p.setStatus(ctx, args, "resolved")
}

func (p *pagerdutyTools) onCall(ctx context.Context, args map[string]any) (any, error) {
	id := orchestrator.String(args, "schedule_id", "")
	var res struct {
		Schedule struct {
			Name  string `json:"name"`
			Users []struct {
				Summary string `json:"summary"`
				Email   string `json:"email"`
			} `json:"users"`
		} `json:"schedule"`
	}
	if err := p.c.Get(ctx, "/schedules/"+url.PathEscape(id), url.Values{"include[]": {"users"}}, &res); err != nil {
		return nil, err
	}
	type user struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	users := make([]user, 0, len(res.Schedule.Users))
	for _, u := range res.Schedule.Users {
		users = append(users, user{Name: u.Summary, Email: u.Email})
	}
	return map[string]any{"schedule": res.Schedule.Name, "on_call": users}, nil
}

func (p *pagerdutyTools) trigger(ctx context.Context, args map[string]any) (any, error) {
	service := orchestrator.String(args, "service_id", p.cfg.ServiceID)
	if service == "" {
		return nil, errors.New("service_id is required")
	}
	urgency := orchestrator.String(args, "urgency", "high")
	if urgency != "high" && urgency != "low" {
		return nil, errors.New("urgency must be high or low")
	}
	title := orchestrator.String(args, "title", "")
	body := map[string]any{"incident": map[string]any{
		"type":    "incident",
		"title":   title,
		"service": map[string]string{"id": service, "type": "service_reference"},
		"urgency": urgency,
		"body":    map[string]string{"type": "incident_body", "details": orchestrator.String(args, "description", "")},
	}}
	var res struct {
		Incident pdIncident `json:"incident"`
	}
	if err := p.write(ctx, http.MethodPost, "/incidents", body, &res); err != nil {
		return nil, err
	}
	return map[string]any{"id": res.Incident.ID, "title": title, "status": res.Incident.Status, "url": res.Incident.HTMLURL}, nil
}
