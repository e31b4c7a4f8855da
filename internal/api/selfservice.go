package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opentalon/idpportal/internal/orchestrator"
)

// TemplateParam describes one input of a self-service template.
type TemplateParam struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Required bool     `json:"required,omitempty"`
	Options  []string `json:"options,omitempty"`
	Default  any      `json:"default,omitempty"`
}

// Template is a golden-path resource a developer can request.
type Template struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Parameters  []TemplateParam `json:"parameters"`
}

// Templates is the self-service catalog.
var Templates = []Template{
	{
		Name:        "microservice",
		Description: "Create a new microservice with GitHub repo, CI/CD, and ArgoCD deployment",
		Category:    "application",
		Parameters: []TemplateParam{
			{Name: "service_name", Type: "string", Required: true},
			{Name: "language", Type: "string", Options: []string{"python", "go", "node"}, Required: true},
			{Name: "gitops_engine", Type: "string", Options: []string{"argocd", "flux"}, Default: "argocd"},
			{Name: "needs_kafka", Type: "boolean", Default: false},
			{Name: "needs_database", Type: "boolean", Default: false},
		},
	},
	{
		Name:        "kafka-topic",
		Description: "Create a Kafka topic with schema registry",
		Category:    "infrastructure",
		Parameters: []TemplateParam{
			{Name: "topic_name", Type: "string", Required: true},
			{Name: "partitions", Type: "integer", Default: 3},
			{Name: "retention_ms", Type: "integer", Default: 604800000},
			{Name: "schema", Type: "string"},
		},
	},
	{
		Name:        "database",
		Description: "Provision a managed database (RDS Postgres/MySQL/Aurora)",
		Category:    "infrastructure",
		Parameters: []TemplateParam{
			{Name: "db_name", Type: "string", Required: true},
			{Name: "engine", Type: "string", Options: []string{"postgres", "mysql", "aurora-postgres"}, Required: true},
			{Name: "instance_class", Type: "string", Default: "db.t3.medium"},
			{Name: "storage_gb", Type: "integer", Default: 20},
		},
	},
	{
		Name:        "api-service",
		Description: "Create a REST API service with OpenAPI spec and golden path patterns",
		Category:    "application",
		Parameters: []TemplateParam{
			{Name: "service_name", Type: "string", Required: true},
			{Name: "language", Type: "string", Options: []string{"python", "go", "node"}, Required: true},
			{Name: "auth_required", Type: "boolean", Default: true},
		},
	},
	{
		Name:        "s3-bucket",
		Description: "Create an S3 bucket with encryption and lifecycle policies",
		Category:    "infrastructure",
		Parameters: []TemplateParam{
			{Name: "bucket_name", Type: "string", Required: true},
			{Name: "versioning", Type: "boolean", Default: true},
			{Name: "lifecycle_days", Type: "integer", Default: 90},
		},
	},
	{
		Name:        "worker-service",
		Description: "Create a background worker service (Kafka consumer or SQS processor)",
		Category:    "application",
		Parameters: []TemplateParam{
			{Name: "service_name", Type: "string", Required: true},
			{Name: "source", Type: "string", Options: []string{"kafka", "sqs"}, Required: true},
			{Name: "topic_or_queue", Type: "string", Required: true},
		},
	},
}

// FindTemplate returns the template with the given name.
func FindTemplate(name string) (Template, bool) {
	for _, t := range Templates {
		if t.Name == name {
			return t, true
		}
	}
	return Template{}, false
}

// Resolve checks params against the template and returns them with
// defaults filled in.
func (t Template) Resolve(params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(t.Parameters))
	var problems []string
	for _, p := range t.Parameters {
		v, ok := params[p.Name]
		if !ok || v == nil || v == "" {
			if p.Required {
				problems = append(problems, p.Name+" is required")
			} else if p.Default != nil {
				out[p.Name] = p.Default
			}
			continue
		}
		if err := p.check(v); err != nil {
			problems = append(problems, err.Error())
			continue
		}
		out[p.Name] = v
	}
	for name := range params {
		if !slices.ContainsFunc(t.Parameters, func(p TemplateParam) bool { return p.Name == name }) {
			problems = append(problems, "unknown parameter "+name)
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, fmt.Errorf("template %s: %s", t.Name, strings.Join(problems, "; "))
	}
	return out, nil
}

func (p TemplateParam) check(v any) error {
	switch p.Type {
	case "boolean":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("%s must be a boolean", p.Name)
		}
	case "integer":
		f, ok := v.(float64)
		if !ok || f != float64(int64(f)) {
			return fmt.Errorf("%s must be an integer", p.Name)
		}
	default:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%s must be a string", p.Name)
		}
		if len(p.Options) > 0 && !slices.Contains(p.Options, s) {
			return fmt.Errorf("%s must be one of %s", p.Name, strings.Join(p.Options, ", "))
		}
	}
	return nil
}

// Provisioning states.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var provisionSteps = []string{
	"validate_policies",
	"create_repo",
	"generate_configs",
	"deploy_gitops",
	"register_catalog",
	"notify_team",
}

type ProvisionStep struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Provision is the tracked state of one self-service request.
type Provision struct {
	RequestID      string          `json:"request_id"`
	Template       string          `json:"template_name"`
	Parameters     map[string]any  `json:"parameters"`
	Status         string          `json:"status"`
	Steps          []ProvisionStep `json:"steps"`
	ConversationID string          `json:"conversation_id"`
	Result         string          `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Provisioner hands self-service requests to the supervisor in the
// background and tracks their progress.
type Provisioner struct {
	runner orchestrator.Runner
	logger *zap.Logger

	mu       sync.RWMutex
	requests map[string]*Provision
	wg       sync.WaitGroup
}

func NewProvisioner(runner orchestrator.Runner, logger *zap.Logger) *Provisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{runner: runner, logger: logger, requests: make(map[string]*Provision)}
}

// Submit validates the request and starts it. ctx is only used for its
// values; the run outlives the caller.
func (p *Provisioner) Submit(ctx context.Context, template string, params map[string]any) (Provision, error) {
	t, ok := FindTemplate(template)
	if !ok {
		return Provision{}, fmt.Errorf("template %q not found", template)
	}
	resolved, err := t.Resolve(params)
	if err != nil {
		return Provision{}, err
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	steps := make([]ProvisionStep, len(provisionSteps))
	for i, name := range provisionSteps {
		steps[i] = ProvisionStep{Name: name, Status: StatusPending}
	}
	pr := &Provision{
		RequestID:      id,
		Template:       t.Name,
		Parameters:     resolved,
		Status:         StatusPending,
		Steps:          steps,
		ConversationID: "provision-" + id,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	p.mu.Lock()
	p.requests[id] = pr
	snapshot := pr.clone()
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(context.WithoutCancel(ctx), id, provisionMessage(t, resolved))
	}()
	return snapshot, nil
}

// Get returns a copy of the tracked request.
func (p *Provisioner) Get(id string) (Provision, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pr, ok := p.requests[id]
	if !ok {
		return Provision{}, false
	}
	return pr.clone(), true
}

// Wait blocks until every submitted request has finished.
func (p *Provisioner) Wait() { p.wg.Wait() }

func (p *Provisioner) run(ctx context.Context, id, message string) {
	p.update(id, StatusRunning, "", "")

	if p.runner == nil {
		p.update(id, StatusFailed, "", "no supervisor configured")
		return
	}
	pr, _ := p.Get(id)
	res, err := p.runner.Run(ctx, message, pr.ConversationID)
	if err != nil {
		p.logger.Error("provision failed", zap.String("request_id", id), zap.Error(err))
		p.update(id, StatusFailed, "", err.Error())
		return
	}
	p.logger.Info("provision completed", zap.String("request_id", id), zap.Int("iterations", res.Iterations))
	p.update(id, StatusCompleted, res.FinalMessage(), "")
}

func (p *Provisioner) update(id, status, result, errMsg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pr, ok := p.requests[id]
	if !ok {
		return
	}
	pr.Status = status
	pr.Result = result
	pr.Error = errMsg
	pr.UpdatedAt = time.Now().UTC()
	for i := range pr.Steps {
		pr.Steps[i].Status = status
	}
}

func (pr *Provision) clone() Provision {
	cp := *pr
	cp.Steps = slices.Clone(pr.Steps)
	return cp
}

func provisionMessage(t Template, params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "Provision a new %s (%s) from the self-service catalog.\nParameters:\n", t.Name, t.Description)
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %v\n", k, params[k])
	}
	b.WriteString("Validate the configuration against platform policies first, then create the repository, " +
		"generate the configs, deploy through GitOps, register the service in the catalog and notify the owning team.")
	return b.String()
}

type provisionRequest struct {
	TemplateName string         `json:"template_name"`
	Parameters   map[string]any `json:"parameters"`
}

func (s *Server) handleListTemplates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"templates": Templates})
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	t, ok := FindTemplate(r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusNotFound, "template '"+r.PathValue("name")+"' not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if _, ok := FindTemplate(req.TemplateName); !ok {
		writeError(w, http.StatusNotFound, "template '"+req.TemplateName+"' not found")
		return
	}
	pr, err := s.provisioner.Submit(r.Context(), req.TemplateName, req.Parameters)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, pr)
}

func (s *Server) handleProvisionStatus(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.provisioner.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "provision request not found")
		return
	}
	writeJSON(w, http.StatusOK, pr)
}
