package graph_test

import (
	"strings"
	"testing"
	"time"

	"github.com/dukex/flowline/pkg/graph"
	"github.com/dukex/flowline/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestMermaid(t *testing.T) {
	t.Parallel()

	workflowType := graph.NewType("approval").
		Node(graph.Start("start"), graph.Human("approve"), graph.Join("done", "approve")).
		Edge("start", "approve").
		Edge("approve", "done").
		MustBuild()

	want := "flowchart TD\n" +
		"    n_start((\"start\"))\n" +
		"    n_approve([\"approve\"])\n" +
		"    n_done{{\"done\"}}\n" +
		"    n_start --> n_approve\n" +
		"    n_approve --> n_done\n"

	assert.Equal(t, want, graph.Mermaid(workflowType))
}

func TestInstanceMermaid(t *testing.T) {
	t.Parallel()

	completed := time.Now()
	tasks := []*models.Task{
		{ID: "a", Name: "start", Type: models.NodeTypeMachine, Status: models.TaskStatusSucceeded, Completed: &completed},
		{ID: "b", Name: "override", Type: models.NodeTypeHuman, Status: models.TaskStatusSucceeded, Completed: &completed},
		{ID: "c", Name: "approve", Type: models.NodeTypeHuman, Status: models.TaskStatusScheduled},
	}
	edges := []models.Edge{{ParentID: "a", ChildID: "b"}, {ParentID: "b", ChildID: "c"}, {ParentID: "x", ChildID: "c"}}

	out := graph.InstanceMermaid(nil, tasks, edges)

	assert.Contains(t, out, `t0["start<br/>succeeded"]`)
	assert.Contains(t, out, `t1(["override<br/>succeeded"])`)
	assert.Contains(t, out, `t2(["approve<br/>scheduled"])`)
	assert.Contains(t, out, "t0 --> t1\n")
	assert.Contains(t, out, "t1 --> t2\n")
	assert.Equal(t, 2, strings.Count(out, "-->"))
	assert.Contains(t, out, "class t2 pending\n")
	assert.Contains(t, out, "class t1 override\n")
}
