package agents

import (
	"github.com/opentalon/idpportal/internal/orchestrator"
	"github.com/opentalon/idpportal/internal/scheduler"
)

// Catalog lists every handler the portal knows how to build, in
// registration order. Handlers whose backend is not configured fail
// construction and are left out by the registry. A nil scheduler leaves
// the scheduler handler unregistered the same way.
func Catalog(sched *scheduler.Scheduler) []orchestrator.Entry {
	return []orchestrator.Entry{
		{Name: "kubernetes", New: NewKubernetes},
		{Name: "kafka", New: NewKafka},
		{Name: "argocd", New: NewArgoCD},
		{Name: "flux", New: NewFlux},
		{Name: "github", New: NewGitHub},
		{Name: "jira", New: NewJira},
		{Name: "pagerduty", New: NewPagerDuty},
		{Name: "slack", New: NewSlack},
		{Name: "vault", New: NewVault},
		{Name: "rancher", New: NewRancher},
		{Name: "backstage", New: NewBackstage},
		{Name: "policy", New: NewPolicy},
		{Name: "scripts", New: NewScripts},
		{Name: "requests", New: NewRequests},
		scheduler.Entry(sched),
	}
}
