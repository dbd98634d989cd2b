// Package graph computes readiness and topological structure over task
// dependency graphs. Cycle rejection happens in the task store at creation
// time; this package assumes acyclic input.
package graph

import (
	"sort"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// ReadySet returns the tasks that are pending and whose entire BlockedBy set
// is satisfied (completed or skipped). Ties break by task creation order, so
// the result is deterministic for a given snapshot.
func ReadySet(tasks []*models.Task) []*models.Task {
	byID := index(tasks)

	var ready []*models.Task
	for _, t := range tasks {
		if t.Status != models.TaskStatusPending {
			continue
		}
		if depsSatisfied(t, byID) {
			ready = append(ready, t)
		}
	}

	sort.Slice(ready, func(i, j int) bool { return ready[i].Seq < ready[j].Seq })
	return ready
}

// IsReady reports whether the task with the given ID is in the ready set.
func IsReady(tasks []*models.Task, id string) bool {
	byID := index(tasks)
	t, ok := byID[id]
	if !ok || t.Status != models.TaskStatusPending {
		return false
	}
	return depsSatisfied(t, byID)
}

// Layers partitions tasks into topological layers: layer 0 contains tasks
// with no dependencies, layer n tasks whose dependencies all live in layers
// < n. Within a layer, tasks are ordered by creation order. Used by the
// incremental delivery pattern to derive increments.
func Layers(tasks []*models.Task) [][]*models.Task {
	byID := index(tasks)

	depth := make(map[string]int, len(tasks))
	var depthOf func(id string) int
	depthOf = func(id string) int {
		if d, ok := depth[id]; ok {
			return d
		}
		t, ok := byID[id]
		if !ok {
			return 0
		}
		d := 0
		for _, dep := range t.BlockedBy {
			if dd := depthOf(dep) + 1; dd > d {
				d = dd
			}
		}
		depth[id] = d
		return d
	}

	maxDepth := 0
	for _, t := range tasks {
		if d := depthOf(t.ID); d > maxDepth {
			maxDepth = d
		}
	}

	layers := make([][]*models.Task, maxDepth+1)
	for _, t := range tasks {
		d := depth[t.ID]
		layers[d] = append(layers[d], t)
	}
	for _, layer := range layers {
		sort.Slice(layer, func(i, j int) bool { return layer[i].Seq < layer[j].Seq })
	}
	return layers
}

// Dependents returns the IDs of tasks that transitively depend on the given
// task, sorted. Skip decisions report through it which tasks a skip releases;
// the skip itself needs no cascade because skipped dependencies count as
// satisfied.
func Dependents(tasks []*models.Task, id string) []string {
	direct := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		for _, dep := range t.BlockedBy {
			direct[dep] = append(direct[dep], t.ID)
		}
	}

	seen := make(map[string]bool)
	var out []string
	var walk func(id string)
	walk = func(id string) {
		for _, dep := range direct[id] {
			if !seen[dep] {
				seen[dep] = true
				out = append(out, dep)
				walk(dep)
			}
		}
	}
	walk(id)
	sort.Strings(out)
	return out
}

// AllTerminal reports whether every task in the snapshot has reached a
// terminal status.
func AllTerminal(tasks []*models.Task) bool {
	for _, t := range tasks {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

func depsSatisfied(t *models.Task, byID map[string]*models.Task) bool {
	for _, dep := range t.BlockedBy {
		d, ok := byID[dep]
		if !ok || !d.Status.Satisfied() {
			return false
		}
	}
	return true
}

func index(tasks []*models.Task) map[string]*models.Task {
	byID := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	return byID
}
