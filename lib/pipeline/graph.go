// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"container/heap"
	"fmt"
	"slices"
	"strconv"

	schema "github.com/hangar-build/hangar/lib/schema/pipeline"
)

// Job is one schedulable unit: a step after group flattening and
// matrix and parallelism expansion.
type Job struct {
	// ID is unique within the graph. It is the step key, suffixed
	// with "[...]" for matrix jobs and "#n" for parallel jobs. Steps
	// without a key use "step#N" with N the 1-based position.
	ID string

	// Step is concrete: no group, matrix or parallelism remains.
	Step schema.Step

	// Group is the display name of the enclosing group, if any.
	Group string

	Matrix map[string]string

	ParallelIndex int
	ParallelCount int
}

// Edge orders From before To.
type Edge struct {
	From int
	To   int

	// AllowFailure lets To run even when From fails or is canceled.
	AllowFailure bool
}

// Graph is the job dependency graph of a pipeline.
type Graph struct {
	jobs     []Job
	byID     map[string]int
	incoming [][]Edge
	order    []int
}

// NewGraph flattens and expands steps into jobs and connects them.
//
// Explicit depends_on edges point at every job derived from the
// referenced key; a group key stands for all of its children. Wait,
// block and input steps are barriers: each depends on the jobs since
// the previous barrier in its scope, and every later job depends on
// it. Barriers inside a group only order the group's children.
func NewGraph(steps []schema.Step) (*Graph, error) {
	b := &graphBuilder{
		keyed: make(map[string][]int),
		edges: make(map[[2]int]bool),
	}
	b.walk(steps, nil, "")

	graph := &Graph{
		jobs:     b.jobs,
		byID:     make(map[string]int, len(b.jobs)),
		incoming: make([][]Edge, len(b.jobs)),
	}
	for index, job := range b.jobs {
		graph.byID[job.ID] = index
	}

	for index, job := range b.jobs {
		for _, dependency := range job.Step.DependsOn {
			targets, ok := b.keyed[dependency.Step]
			if !ok {
				return nil, &DependencyError{Key: dependency.Step, Step: job.ID}
			}
			for _, target := range targets {
				if target == index {
					return nil, &DependencyError{Key: dependency.Step, Step: job.ID, Cycle: []string{job.ID, job.ID}}
				}
				b.connect(target, index, dependency.AllowFailure)
			}
		}
	}

	for pair, allowFailure := range b.edges {
		to := pair[1]
		if b.jobs[to].Step.AllowDependencyFailure {
			allowFailure = true
		}
		graph.incoming[to] = append(graph.incoming[to], Edge{From: pair[0], To: to, AllowFailure: allowFailure})
	}
	for index := range graph.incoming {
		slices.SortFunc(graph.incoming[index], func(x, y Edge) int { return x.From - y.From })
	}

	order, err := graph.topologicalOrder()
	if err != nil {
		return nil, err
	}
	graph.order = order
	return graph, nil
}

// Len returns the number of jobs.
func (g *Graph) Len() int { return len(g.jobs) }

// Jobs returns the jobs in declaration order. Indices into this slice
// are the job indices used by Edge, Order and Ready.
func (g *Graph) Jobs() []Job { return g.jobs }

// Job returns the job with the given ID.
func (g *Graph) Job(id string) (int, Job, bool) {
	index, ok := g.byID[id]
	if !ok {
		return -1, Job{}, false
	}
	return index, g.jobs[index], true
}

// Dependencies returns the incoming edges of a job, ordered by
// dependency index.
func (g *Graph) Dependencies(index int) []Edge { return g.incoming[index] }

// Order returns a topological order of job indices. Among jobs whose
// dependencies are all placed, the lowest index comes first, so the
// order is deterministic and follows declaration order where edges
// allow.
func (g *Graph) Order() []int { return g.order }

// Action is what the scheduler should do with a pending job.
type Action int

const (
	// ActionRun starts the job.
	ActionRun Action = iota
	// ActionCancel marks the job canceled because a hard dependency
	// failed or was canceled.
	ActionCancel
	// ActionBlock marks the job blocked behind a blocked dependency.
	ActionBlock
)

func (a Action) String() string {
	switch a {
	case ActionRun:
		return "run"
	case ActionCancel:
		return "cancel"
	case ActionBlock:
		return "block"
	default:
		return "action(" + strconv.Itoa(int(a)) + ")"
	}
}

// Decision is one scheduling decision from Ready.
type Decision struct {
	Index  int
	Action Action
	Reason string
}

// Ready returns a decision for every pending job whose dependencies
// are all terminal, in topological order. states is indexed by job
// index and must have Len entries.
func (g *Graph) Ready(states []State) []Decision {
	var decisions []Decision
	for _, index := range g.order {
		if states[index] != StatePending {
			continue
		}
		decision, ready := g.decide(index, states)
		if ready {
			decisions = append(decisions, decision)
		}
	}
	return decisions
}

func (g *Graph) decide(index int, states []State) (Decision, bool) {
	decision := Decision{Index: index, Action: ActionRun}
	for _, edge := range g.incoming[index] {
		state := states[edge.From]
		if !state.IsTerminal() {
			return Decision{}, false
		}
		dependency := g.jobs[edge.From].ID
		switch {
		case state == StateBlocked:
			if decision.Action != ActionCancel {
				decision.Action = ActionBlock
				decision.Reason = fmt.Sprintf("waiting on %s", dependency)
			}
		case state.Satisfies(), edge.AllowFailure:
		default:
			decision.Action = ActionCancel
			decision.Reason = fmt.Sprintf("dependency %s %s", dependency, state)
		}
	}
	return decision, true
}

// topologicalOrder runs Kahn's algorithm with a min-heap of ready
// indices. On a cycle it returns a DependencyError with one cycle.
func (g *Graph) topologicalOrder() ([]int, error) {
	indegree := make([]int, len(g.jobs))
	outgoing := make([][]int, len(g.jobs))
	for to, edges := range g.incoming {
		indegree[to] = len(edges)
		for _, edge := range edges {
			outgoing[edge.From] = append(outgoing[edge.From], to)
		}
	}

	ready := &indexHeap{}
	for index, degree := range indegree {
		if degree == 0 {
			heap.Push(ready, index)
		}
	}
	order := make([]int, 0, len(g.jobs))
	for ready.Len() > 0 {
		index := heap.Pop(ready).(int)
		order = append(order, index)
		for _, next := range outgoing[index] {
			indegree[next]--
			if indegree[next] == 0 {
				heap.Push(ready, next)
			}
		}
	}
	if len(order) == len(g.jobs) {
		return order, nil
	}

	cycle := g.findCycle(indegree)
	return nil, &DependencyError{
		Key:   cycle[0],
		Step:  cycle[len(cycle)-2],
		Cycle: cycle,
	}
}

// findCycle walks dependency edges from the lowest-index job left
// unordered by Kahn's algorithm. Every such job has an unordered
// dependency, so the walk must revisit a job.
func (g *Graph) findCycle(indegree []int) []string {
	start := -1
	for index, degree := range indegree {
		if degree > 0 {
			start = index
			break
		}
	}
	position := make(map[int]int)
	var path []int
	for current := start; ; {
		if at, seen := position[current]; seen {
			// path runs from dependents to dependencies; reverse it
			// so the cycle reads in execution order.
			loop := slices.Clone(path[at:])
			slices.Reverse(loop)
			ids := make([]string, 0, len(loop)+1)
			for _, index := range loop {
				ids = append(ids, g.jobs[index].ID)
			}
			return append(ids, ids[0])
		}
		position[current] = len(path)
		path = append(path, current)
		for _, edge := range g.incoming[current] {
			if indegree[edge.From] > 0 {
				current = edge.From
				break
			}
		}
	}
}

type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *indexHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// graphBuilder accumulates jobs and implicit edges while walking the
// step tree.
type graphBuilder struct {
	jobs     []Job
	keyed    map[string][]int
	edges    map[[2]int]bool
	position int
}

// connect records an edge. A hard edge wins over a soft one between
// the same jobs.
func (b *graphBuilder) connect(from, to int, allowFailure bool) {
	pair := [2]int{from, to}
	if existing, ok := b.edges[pair]; ok {
		b.edges[pair] = existing && allowFailure
		return
	}
	b.edges[pair] = allowFailure
}

// walk adds the jobs of steps, each depending on entry, and returns
// every job index added.
func (b *graphBuilder) walk(steps []schema.Step, entry []int, group string) []int {
	var all, since []int
	barrier := entry
	for _, step := range steps {
		switch {
		case step.Group != nil:
			children := make([]schema.Step, len(step.Group.Steps))
			for index, child := range step.Group.Steps {
				children[index] = inheritGroup(step, child)
			}
			added := b.walk(children, barrier, step.DisplayName())
			if step.Key != "" {
				b.keyed[step.Key] = added
			}
			since = append(since, added...)
			all = append(all, added...)

		case step.IsBarrier():
			added := b.add(step, group)
			soft := step.Wait != nil && step.Wait.ContinueOnFailure
			upstream := since
			if len(upstream) == 0 {
				upstream = barrier
			}
			for _, to := range added {
				for _, from := range upstream {
					b.connect(from, to, soft)
				}
			}
			barrier = added
			since = nil
			all = append(all, added...)

		default:
			added := b.add(step, group)
			for _, to := range added {
				for _, from := range barrier {
					b.connect(from, to, false)
				}
			}
			since = append(since, added...)
			all = append(all, added...)
		}
	}
	return all
}

// add expands one non-group step into jobs.
func (b *graphBuilder) add(step schema.Step, group string) []int {
	b.position++
	base := step.Key
	if base == "" {
		base = "step#" + strconv.Itoa(b.position)
	}
	var matrix *schema.Matrix
	if step.Command != nil {
		matrix = step.Command.Matrix
	}

	var added []int
	for _, expansion := range expand(step) {
		id := base + matrixSuffix(matrix, expansion.Matrix)
		if expansion.ParallelCount > 0 {
			id += "#" + strconv.Itoa(expansion.ParallelIndex)
		}
		added = append(added, len(b.jobs))
		b.jobs = append(b.jobs, Job{
			ID:            id,
			Step:          expansion.Step,
			Group:         group,
			Matrix:        expansion.Matrix,
			ParallelIndex: expansion.ParallelIndex,
			ParallelCount: expansion.ParallelCount,
		})
	}
	if step.Key != "" {
		b.keyed[step.Key] = added
	}
	return added
}
