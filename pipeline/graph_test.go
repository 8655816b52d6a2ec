package pipeline

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraph(t *testing.T) {
	steps := []Step{noop("fetch"), noop("load", "fetch"), noop("report", "fetch", "load")}

	g, err := Graph(steps)
	require.NoError(t, err)

	order, err := g.Order()
	require.NoError(t, err)
	assert.Equal(t, 3, order)

	edges, err := g.Edges()
	require.NoError(t, err)
	assert.Len(t, edges, 3)

	_, err = g.Edge("fetch", "load")
	assert.NoError(t, err, "edges point from dependency to dependent")
	_, err = g.Edge("load", "fetch")
	assert.Error(t, err)

	_, props, err := g.VertexWithProperties("load")
	require.NoError(t, err)
	assert.Equal(t, "2. load", props.Attributes["label"])
}

func TestGraph_Invalid(t *testing.T) {
	_, err := Graph([]Step{noop("load", "fetch")})
	var depErr *DependencyError
	assert.ErrorAs(t, err, &depErr)
}

func TestWriteDOT(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteDOT(&buf, []Step{noop("fetch"), noop("load", "fetch")}))

	dot := buf.String()
	assert.Contains(t, dot, "digraph")
	assert.Contains(t, dot, `"fetch" -> "load"`)
	assert.Contains(t, dot, "rankdir")
}
