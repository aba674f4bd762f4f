package orchestrator

import (
	"fmt"

	"github.com/gammazero/toposort"
)

// validateDAG checks that a task set's Dependencies form an acyclic graph
// and that every referenced dependency index exists, grounded on
// open-swarm's pkg/dag/scheduler.go use of toposort for build-order
// validation. It returns a topological order for informational purposes;
// the orchestrator itself schedules by dependency-satisfaction rather than
// by this fixed order, since dependencies can finish in any order.
func validateDAG(tasks []*Task) ([]uint32, error) {
	byIndex := make(map[uint32]*Task, len(tasks))
	for _, t := range tasks {
		byIndex[t.Index] = t
	}

	graph := toposort.NewGraph(len(tasks))
	for _, t := range tasks {
		graph.AddNode(fmt.Sprint(t.Index))
	}
	for _, t := range tasks {
		for dep := range t.Dependencies {
			if _, ok := byIndex[dep]; !ok {
				return nil, fmt.Errorf("task %d depends on unknown task %d", t.Index, dep)
			}
			// dep must run before t: edge dep -> t.
			if err := graph.AddEdge(fmt.Sprint(dep), fmt.Sprint(t.Index)); err != nil {
				return nil, fmt.Errorf("add dependency edge %d->%d: %w", dep, t.Index, err)
			}
		}
	}

	order, ok := graph.Toposort()
	if !ok {
		return nil, ErrCyclicDependency
	}

	result := make([]uint32, 0, len(order))
	for _, name := range order {
		var idx uint32
		if _, err := fmt.Sscan(name, &idx); err != nil {
			return nil, fmt.Errorf("decode toposort node %q: %w", name, err)
		}
		result = append(result, idx)
	}
	return result, nil
}
