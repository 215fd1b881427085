package workflow

import (
	"fmt"
	"strings"
)

// DependencyGraph is the static declaration of which jobs must succeed
// before others may run. It is validated once at load time; a cycle or a
// reference to an unknown job is a configuration error, and the workflow
// never starts with an invalid graph.
type DependencyGraph struct {
	byName map[string]JobDefinition
	order  []JobDefinition
}

// NewDependencyGraph validates the job set and computes a topological
// execution order. The order is deterministic: among jobs whose
// dependencies are equally satisfied, declaration order is preserved.
func NewDependencyGraph(jobs []JobDefinition) (*DependencyGraph, error) {
	if len(jobs) == 0 {
		return nil, fmt.Errorf("workflow: no jobs defined")
	}

	byName := make(map[string]JobDefinition, len(jobs))
	for _, job := range jobs {
		if job.Name == "" {
			return nil, fmt.Errorf("workflow: job with empty name")
		}
		if _, ok := byName[job.Name]; ok {
			return nil, fmt.Errorf("workflow: duplicate job name %q", job.Name)
		}
		byName[job.Name] = job
	}

	for _, job := range jobs {
		for _, dep := range job.DependsOn {
			if dep == job.Name {
				return nil, fmt.Errorf("workflow: job %q depends on itself", job.Name)
			}
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("workflow: job %q depends on unknown job %q", job.Name, dep)
			}
		}
	}

	order, err := topologicalOrder(jobs)
	if err != nil {
		return nil, err
	}

	return &DependencyGraph{
		byName: byName,
		order:  order,
	}, nil
}

// Order returns the jobs in dependency-respecting execution order
func (g *DependencyGraph) Order() []JobDefinition {
	return g.order
}

// Job returns the definition for a job name
func (g *DependencyGraph) Job(name string) (JobDefinition, bool) {
	job, ok := g.byName[name]
	return job, ok
}

// Len returns the number of jobs in the graph
func (g *DependencyGraph) Len() int {
	return len(g.order)
}

// topologicalOrder runs Kahn's algorithm over the dependency edges.
// A remainder after the queue drains means at least one cycle exists;
// the offending jobs are named in the error.
func topologicalOrder(jobs []JobDefinition) ([]JobDefinition, error) {
	indegree := make(map[string]int, len(jobs))
	dependents := make(map[string][]string, len(jobs))

	for _, job := range jobs {
		indegree[job.Name] = len(job.DependsOn)
		for _, dep := range job.DependsOn {
			dependents[dep] = append(dependents[dep], job.Name)
		}
	}

	byName := make(map[string]JobDefinition, len(jobs))
	for _, job := range jobs {
		byName[job.Name] = job
	}

	// Seed queue in declaration order for deterministic output
	var queue []string
	for _, job := range jobs {
		if indegree[job.Name] == 0 {
			queue = append(queue, job.Name)
		}
	}

	order := make([]JobDefinition, 0, len(jobs))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		order = append(order, byName[name])

		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(jobs) {
		var cyclic []string
		for _, job := range jobs {
			if indegree[job.Name] > 0 {
				cyclic = append(cyclic, job.Name)
			}
		}
		return nil, fmt.Errorf("workflow: dependency cycle involving jobs: %s", strings.Join(cyclic, ", "))
	}

	return order, nil
}
