package agents

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/opentalon/idpportal/internal/agents/rest"
	"github.com/opentalon/idpportal/internal/config"
	"github.com/opentalon/idpportal/internal/orchestrator"
	"github.com/opentalon/idpportal/internal/provider"
)

const githubDefaultURL = "https://api.github.com"

const githubCharter = `You are a GitHub operations agent for the IDP Portal.
You create repositories, pull requests and issues, list repositories, search code and report GitHub Actions workflow runs.
Repositories are addressed as owner/repo.`

// NewGitHub builds the github agent. The URL defaults to the public API.
func NewGitHub(env *orchestrator.Env) (orchestrator.Handler, error) {
	cfg := backends(env).GitHub
	if cfg.Token == "" {
		return nil, errors.New("github token is required")
	}
	base := cfg.URL
	if base == "" {
		base = githubDefaultURL
	}
	c := rest.New("github", base,
		rest.WithHeader("Authorization", "token "+cfg.Token),
		rest.WithHeader("Accept", "application/vnd.github+json"),
		rest.WithHeader("X-GitHub-Api-Version", "2022-11-28"),
	)
	return newGitHub(env, c, cfg), nil
}

func newGitHub(env *orchestrator.Env, c *rest.Client, cfg config.GitHubConfig) *orchestrator.ToolAgent {
	g := &githubTools{c: c, org: cfg.Org}
	manifest := orchestrator.CapabilityManifest{
		Name:        "github",
		Description: "Manages GitHub repositories, pull requests, issues, code search and workflow runs",
		Capabilities: []orchestrator.Capability{
			{Name: "repository_management", Description: "Create and list repositories",
				Tools: []string{"create_repository", "list_repositories"}},
			{Name: "collaboration", Description: "Open pull requests and issues",
				Tools: []string{"create_pull_request", "create_issue"}},
			{Name: "code_insight", Description: "Search code and inspect CI runs",
				Tools: []string{"search_code", "get_workflow_runs"}},
		},
	}
	repo := required(str("repo", "Repository as owner/repo"))
	org := str("org", "GitHub organization")
	if cfg.Org != "" {
		org.Description += ", default " + strconv.Quote(cfg.Org)
	}
	return orchestrator.NewToolAgent(env, manifest, githubCharter,
		orchestrator.NewTool("create_repository", "Create a repository in an organization", []provider.Parameter{
			required(str("name", "Repository name")), org,
			str("description", "Repository description"),
			boolean("private", "Private repository, default true"),
		}, g.createRepository),
		orchestrator.NewTool("create_pull_request", "Open a pull request", []provider.Parameter{
			repo, required(str("title", "Title")), str("body", "Description"),
			required(str("head", "Source branch")), str("base", "Target branch, default main"),
		}, g.createPullRequest),
		orchestrator.NewTool("list_repositories", "List repositories of an organization, most recently updated first", []provider.Parameter{
			org, integer("limit", "Maximum repositories, default 30"),
		}, g.listRepositories),
		orchestrator.NewTool("create_issue", "Open an issue", []provider.Parameter{
			repo, required(str("title", "Title")), str("body", "Description"), array("labels", "Labels"),
		}, g.createIssue),
		orchestrator.NewTool("search_code", "Search code, optionally restricted to an organization", []provider.Parameter{
			required(str("query", "Search query")), org,
		}, g.searchCode),
		orchestrator.NewTool("get_workflow_runs", "Get recent GitHub Actions workflow runs", []provider.Parameter{
			repo, integer("limit", "Maximum runs, default 5"),
		}, g.workflowRuns),
	)
}

type githubTools struct {
	c   *rest.Client
	org string
}

func (g *githubTools) orgArg(args map[string]any) (string, error) {
	org := orchestrator.String(args, "org", g.org)
	if org == "" {
		return "", errors.New("org is required")
	}
	return url.PathEscape(org), nil
}

// repoPath validates an owner/repo pair and returns its API path.
func repoPath(args map[string]any) (string, error) {
	repo := orchestrator.String(args, "repo", "")
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("repo %q must have the form owner/repo", repo)
	}
	return "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(name), nil
}

func (g *githubTools) createRepository(ctx context.Context, args map[string]any) (any, error) {
	org, err := g.orgArg(args)
	if err != nil {
		return nil, err
	}
	private, err := orchestrator.Bool(args, "private", true)
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"name":        orchestrator.String(args, "name", ""),
		"description": orchestrator.String(args, "description", ""),
		"private":     private,
		"auto_init":   true,
	}
	var repo struct {
		FullName string `json:"full_name"`
		HTMLURL  string `json:"html_url"`
		CloneURL string `json:"clone_url"`
	}
	if err := g.c.Post(ctx, "/orgs/"+org+"/repos", body, &repo); err != nil {
		return nil, err
	}
	return map[string]any{"name": repo.FullName, "url": repo.HTMLURL, "clone_url": repo.CloneURL}, nil
}

func (g *githubTools) createPullRequest(ctx context.Context, args map[string]any) (any, error) {
	path, err := repoPath(args)
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"title": orchestrator.String(args, "title", ""),
		"body":  orchestrator.String(args, "body", ""),
		"head":  orchestrator.String(args, "head", ""),
		"base":  orchestrator.String(args, "base", "main"),
	}
	var pr struct {
		HTMLURL string `json:"html_url"`
		Number  int    `json:"number"`
		State   string `json:"state"`
	}
	if err := g.c.Post(ctx, path+"/pulls", body, &pr); err != nil {
		return nil, err
	}
	return map[string]any{"url": pr.HTMLURL, "number": pr.Number, "state": pr.State}, nil
}

func (g *githubTools) listRepositories(ctx context.Context, args map[string]any) (any, error) {
	org, err := g.orgArg(args)
	if err != nil {
		return nil, err
	}
	limit, err := orchestrator.Int(args, "limit", 30)
	if err != nil {
		return nil, err
	}
	q := url.Values{"per_page": {strconv.Itoa(limit)}, "sort": {"updated"}}
	var repos []struct {
		FullName    string `json:"full_name"`
		HTMLURL     string `json:"html_url"`
		Description string `json:"description"`
	}
	if err := g.c.Get(ctx, "/orgs/"+org+"/repos", q, &repos); err != nil {
		return nil, err
	}
	type repository struct {
		Name        string `json:"name"`
		URL         string `json:"url"`
		Description string `json:"description"`
	}
	out := make([]repository, 0, len(repos))
	for _, r := range repos {
		out = append(out, repository{Name: r.FullName, URL: r.HTMLURL, Description: r.Description})
	}
	return out, nil
}

func (g *githubTools) createIssue(ctx context.Context, args map[string]any) (any, error) {
	path, err := repoPath(args)
	if err != nil {
		return nil, err
	}
	labels := orchestrator.Strings(args, "labels")
	if labels == nil {
		labels = []string{}
	}
	body := map[string]any{
		"title":  orchestrator.String(args, "title", ""),
		"body":   orchestrator.String(args, "body", ""),
		"labels": labels,
	}
	var issue struct {
		HTMLURL string `json:"html_url"`
		Number  int    `json:"number"`
	}
	if err := g.c.Post(ctx, path+"/issues", body, &issue); err != nil {
		return nil, err
	}
	return map[string]any{"url": issue.HTMLURL, "number": issue.Number}, nil
}

func (g *githubTools) searchCode(ctx context.Context, args map[string]any) (any, error) {
	query := orchestrator.String(args, "query", "")
	if org := orchestrator.String(args, "org", g.org); org != "" {
		query += " org:" + org
	}
	var res struct {
		Items []struct {
			Path       string `json:"path"`
			HTMLURL    string `json:"html_url"`
			Repository struct {
				FullName string `json:"full_name"`
			} `json:"repository"`
		} `json:"items"`
	}
	if err := g.c.Get(ctx, "/search/code", url.Values{"q": {query}, "per_page": {"10"}}, &res); err != nil {
		return nil, err
	}
	type hit struct {
		Path string `json:"path"`
		Repo string `json:"repo"`
		URL  string `json:"url"`
	}
	out := make([]hit, 0, len(res.Items))
	for _, item := range res.Items {
		out = append(out, hit{Path: item.Path, Repo: item.Repository.FullName, URL: item.HTMLURL})
	}
	return out, nil
}

func (g *githubTools) workflowRuns(ctx context.Context, args map[string]any) (any, error) {
	path, err := repoPath(args)
	if err != nil {
		return nil, err
	}
	limit, err := orchestrator.Int(args, "limit", 5)
	if err != nil {
		return nil, err
	}
	var res struct {
		WorkflowRuns []struct {
			ID         int64   `json:"id"`
			Name       string  `json:"name"`
			Status     string  `json:"status"`
			Conclusion *string `json:"conclusion"`
			HTMLURL    string  `json:"html_url"`
			HeadBranch string  `json:"head_branch"`
		} `json:"workflow_runs"`
	}
	if err := g.c.Get(ctx, path+"/actions/runs", url.Values{"per_page": {strconv.Itoa(limit)}}, &res); err != nil {
		return nil, err
	}
	type run struct {
		ID         int64   `json:"id"`
		Name       string  `json:"name"`
		Status     string  `json:"status"`
		Conclusion *string `json:"conclusion"`
		URL        string  `json:"url"`
		Branch     string  `json:"branch"`
	}
	out := make([]run, 0, len(res.WorkflowRuns))
	for _, r := range res.WorkflowRuns {
		out = append(out, run{ID: r.ID, Name: r.Name, Status: r.Status, Conclusion: r.Conclusion, URL: r.HTMLURL, Branch: r.HeadBranch})
	}
	return out, nil
}
