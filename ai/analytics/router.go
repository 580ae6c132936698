package analytics

import (
	"fmt"
	"sync"
)

// Branch identifies a concrete pipeline branch.
type Branch string

// BranchDataAnalytics is the SQL analytics pipeline, the only branch
// registered today.
const BranchDataAnalytics Branch = "data_analytics"

// Router maps a plan's first step agent to a pipeline branch. The
// table is open: new branches register without touching routing logic.
type Router struct {
	mu       sync.RWMutex
	branches map[string]Branch
}

// NewRouter creates a router with the default branch table.
func NewRouter() *Router {
	r := &Router{branches: make(map[string]Branch)}
	r.Register(AgentDataAnalytics, BranchDataAnalytics)
	return r
}

// Register adds or replaces an agent-to-branch mapping.
func (r *Router) Register(agent string, branch Branch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.branches[agent] = branch
}

// Route resolves the branch for a plan. Routing is a pure lookup on
// the first step's agent.
func (r *Router) Route(plan *Plan) (Branch, error) {
	if plan == nil || len(plan.Steps) == 0 {
		return "", fmt.Errorf("route: empty plan")
	}
	agent := plan.Steps[0].Agent

	r.mu.RLock()
	defer r.mu.RUnlock()
	branch, ok := r.branches[agent]
	if !ok {
		return "", fmt.Errorf("route: no branch registered for agent %q", agent)
	}
	return branch, nil
}
