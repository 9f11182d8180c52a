package engine

import (
	"fmt"
	"strings"
)

// DAGBuilder builds the install-order graph of resolved dependencies.
// Levels are computed with Kahn's algorithm; within a level, names keep the
// order of the resolved dependency list so output is reproducible.
type DAGBuilder struct {
	// deps maps names to dependencies
	deps map[string]Dependency

	// order is the resolved dependency order
	order []string

	// adjacencyList maps a dependency to the dependencies installed after it
	adjacencyList map[string][]string

	// reverseAdjacencyList maps a dependency to its prerequisites
	reverseAdjacencyList map[string][]string

	// inDegree tracks the number of prerequisites for each node
	inDegree map[string]int

	// levels maps install level to dependency names at that level
	levels [][]string
}

// NewDAGBuilder creates a new DAG builder.
func NewDAGBuilder() *DAGBuilder {
	return &DAGBuilder{
		deps:                 make(map[string]Dependency),
		adjacencyList:        make(map[string][]string),
		reverseAdjacencyList: make(map[string][]string),
		inDegree:             make(map[string]int),
		levels:               make([][]string, 0),
	}
}

// Build constructs the graph and returns the install levels.
func (b *DAGBuilder) Build(deps []Dependency) ([][]string, error) {
	if len(deps) == 0 {
		return [][]string{}, nil
	}

	if err := b.initialize(deps); err != nil {
		return nil, err
	}

	if err := b.detectCycles(); err != nil {
		return nil, err
	}

	if err := b.computeLevels(); err != nil {
		return nil, err
	}

	return b.levels, nil
}

// initialize sets up the internal data structures.
func (b *DAGBuilder) initialize(deps []Dependency) error {
	for _, dep := range deps {
		if dep.Name == "" {
			return NewInternalError("dependency has empty name", nil)
		}
		if _, exists := b.deps[dep.Name]; exists {
			return NewInternalError(fmt.Sprintf("duplicate dependency: %s", dep.Name), nil)
		}
		b.deps[dep.Name] = dep
		b.order = append(b.order, dep.Name)
		b.adjacencyList[dep.Name] = make([]string, 0)
		b.reverseAdjacencyList[dep.Name] = make([]string, 0)
		b.inDegree[dep.Name] = 0
	}

	for _, name := range b.order {
		for _, before := range b.deps[name].After {
			// Prerequisites that were not activated impose no ordering.
			if _, exists := b.deps[before]; !exists {
				continue
			}
			b.adjacencyList[before] = append(b.adjacencyList[before], name)
			b.reverseAdjacencyList[name] = append(b.reverseAdjacencyList[name], before)
			b.inDegree[name]++
		}
	}

	return nil
}

// detectCycles uses depth-first search to detect circular install ordering.
func (b *DAGBuilder) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, name := range b.order {
		if visited[name] {
			continue
		}
		if cycle := b.detectCyclesUtil(name, visited, recStack, nil); cycle != nil {
			return NewConfigurationError(
				fmt.Sprintf("circular dependency detected: %s", formatCycle(cycle)),
				cycle...,
			).WithCode(ErrCodeDependencyCycle)
		}
	}

	return nil
}

// detectCyclesUtil performs DFS and returns the cycle path if one is found.
func (b *DAGBuilder) detectCyclesUtil(name string, visited, recStack map[string]bool, path []string) []string {
	visited[name] = true
	recStack[name] = true
	path = append(path, name)

	for _, next := range b.adjacencyList[name] {
		if !visited[next] {
			if cycle := b.detectCyclesUtil(next, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[next] {
			for i, id := range path {
				if id == next {
					return append(path[i:], next)
				}
			}
		}
	}

	recStack[name] = false
	return nil
}

// computeLevels assigns install levels using Kahn's algorithm.
func (b *DAGBuilder) computeLevels() error {
	inDegree := make(map[string]int, len(b.inDegree))
	for id, degree := range b.inDegree {
		inDegree[id] = degree
	}

	processed := 0
	done := make(map[string]bool, len(b.order))
	for processed < len(b.order) {
		level := make([]string, 0)
		for _, name := range b.order {
			if !done[name] && inDegree[name] == 0 {
				level = append(level, name)
			}
		}
		if len(level) == 0 {
			return NewInternalError("failed to order all dependencies - possible cycle", nil)
		}
		for _, name := range level {
			done[name] = true
			for _, next := range b.adjacencyList[name] {
				inDegree[next]--
			}
		}
		b.levels = append(b.levels, level)
		processed += len(level)
	}

	return nil
}

// GetLevels returns the computed install levels.
func (b *DAGBuilder) GetLevels() [][]string {
	return b.levels
}

// ToDOT generates a DOT representation of the install graph.
func (b *DAGBuilder) ToDOT(title string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "digraph %q {\n", title)
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, names := range b.levels {
		fmt.Fprintf(&sb, "  subgraph cluster_level_%d {\n", level)
		fmt.Fprintf(&sb, "    label=\"Level %d\";\n", level)
		sb.WriteString("    style=dashed;\n")

		for _, name := range names {
			dep := b.deps[name]
			label := name
			if len(dep.Args) > 0 {
				label = fmt.Sprintf("%s\\n[%s]", name, strings.Join(dep.Args, ", "))
			}
			fmt.Fprintf(&sb, "    %q [label=\"%s\", fillcolor=\"%s\", style=\"%s\"];\n",
				name, label, getPhaseColor(dep.Phase), getNodeStyle(dep))
		}

		sb.WriteString("  }\n\n")
	}

	for _, name := range b.order {
		for _, before := range b.reverseAdjacencyList[name] {
			fmt.Fprintf(&sb, "  %q -> %q;\n", before, name)
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}

// getPhaseColor returns a fill color per dependency phase.
func getPhaseColor(p Phase) string {
	switch p {
	case PhaseBuild:
		return "lightgray"
	case PhaseRuntime:
		return "lightblue"
	default:
		return "white"
	}
}

func getNodeStyle(d Dependency) string {
	if d.Recommended {
		return "filled,rounded,dashed"
	}
	return "filled,rounded"
}
