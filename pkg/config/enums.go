package config

import (
	"fmt"
	"strings"
)

// Agent identifies one of the pipeline stages a process can run.
type Agent string

const (
	// AgentPlanner consumes new incidents and synthesizes plans.
	AgentPlanner Agent = "planner"
	// AgentCollaborator applies approval policy to proposed plans.
	AgentCollaborator Agent = "collaborator"
	// AgentActor compiles and executes approved plans.
	AgentActor Agent = "actor"
	// AgentLearner indexes resolutions into the incident history.
	AgentLearner Agent = "learner"
)

// IsValid checks if the agent name is valid
func (a Agent) IsValid() bool {
	switch a {
	case AgentPlanner, AgentCollaborator, AgentActor, AgentLearner:
		return true
	default:
		return false
	}
}

// AllAgents returns every pipeline agent in processing order.
func AllAgents() []Agent {
	return []Agent{AgentPlanner, AgentCollaborator, AgentActor, AgentLearner}
}

// ParseAgents parses a comma-separated agent list such as "planner,actor".
// The literal "all" (or an empty string) selects every agent.
func ParseAgents(s string) ([]Agent, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "all" {
		return AllAgents(), nil
	}

	seen := make(map[Agent]bool)
	var agents []Agent
	for _, part := range strings.Split(s, ",") {
		a := Agent(strings.TrimSpace(strings.ToLower(part)))
		if !a.IsValid() {
			return nil, fmt.Errorf("%w: unknown agent %q", ErrInvalidValue, part)
		}
		if seen[a] {
			continue
		}
		seen[a] = true
		agents = append(agents, a)
	}
	return agents, nil
}
