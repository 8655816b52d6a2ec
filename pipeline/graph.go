package pipeline

import (
	"fmt"
	"io"

	"github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"
)

// Graph builds the dependency graph of steps: one vertex per step
// identity and an edge from every dependency to its dependent. The
// steps are validated first, so the graph is always acyclic.
func Graph(steps []Step) (graph.Graph[string, string], error) {
	if err := Validate(steps); err != nil {
		return nil, err
	}

	g := graph.New(graph.StringHash, graph.Directed(), graph.Acyclic())
	for i, step := range steps {
		name := StepName(step)
		err := g.AddVertex(name,
			graph.VertexAttribute("label", fmt.Sprintf("%d. %s", i+1, name)),
			graph.VertexAttribute("shape", "box"),
		)
		if err != nil {
			return nil, fmt.Errorf("unable to add vertex %s: %w", name, err)
		}
	}
	for _, step := range steps {
		name := StepName(step)
		for _, dep := range dependencies(step) {
			if err := g.AddEdge(dep, name); err != nil {
				return nil, fmt.Errorf("unable to add edge from %s to %s: %w", dep, name, err)
			}
		}
	}
	return g, nil
}

// WriteDOT renders the dependency graph of steps in Graphviz DOT format.
func WriteDOT(w io.Writer, steps []Step) error {
	g, err := Graph(steps)
	if err != nil {
		return err
	}
	if err := draw.DOT(g, w, draw.GraphAttribute("rankdir", "LR")); err != nil {
		return fmt.Errorf("unable to render dot: %w", err)
	}
	return nil
}

// Graph returns the dependency graph of the pipeline's steps.
func (p *Pipeline) Graph() (graph.Graph[string, string], error) {
	return Graph(p.steps)
}
