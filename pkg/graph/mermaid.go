package graph

import (
	"fmt"
	"strings"

	"github.com/dukex/flowline/pkg/models"
)

// Mermaid renders the workflow type as a Mermaid flowchart. Human nodes are drawn rounded, start nodes as circles.
func Mermaid(t *Type) string {
	var b strings.Builder

	b.WriteString("flowchart TD\n")

	for _, node := range t.nodes {
		fmt.Fprintf(&b, "    %s\n", shape(mermaidID(node.Name()), node.Name(), node))
	}

	for _, edge := range t.edges {
		fmt.Fprintf(&b, "    %s --> %s\n", mermaidID(edge.From), mermaidID(edge.To))
	}

	return b.String()
}

// InstanceMermaid renders the tasks of one workflow instance and the parent links between them.
// Pending tasks are bold and override tasks dashed.
func InstanceMermaid(t *Type, tasks []*models.Task, edges []models.Edge) string {
	var b strings.Builder

	b.WriteString("flowchart TD\n")

	ids := make(map[string]string, len(tasks))

	var pending, overrides []string

	for i, task := range tasks {
		id := fmt.Sprintf("t%d", i)
		ids[task.ID] = id
		label := fmt.Sprintf("%s<br/>%s", task.Name, task.Status)

		var node Node
		if t != nil {
			node, _ = t.Node(task.Name)
		}

		if node == nil && task.Type == models.NodeTypeHuman {
			node = Human(task.Name)
		}

		fmt.Fprintf(&b, "    %s\n", shape(id, label, node))

		if task.Completed == nil {
			pending = append(pending, id)
		}

		if task.Name == models.OverrideTaskName {
			overrides = append(overrides, id)
		}
	}

	for _, edge := range edges {
		parent, parentOK := ids[edge.ParentID]
		child, childOK := ids[edge.ChildID]

		if parentOK && childOK {
			fmt.Fprintf(&b, "    %s --> %s\n", parent, child)
		}
	}

	if len(pending) > 0 {
		b.WriteString("    classDef pending font-weight:bold\n")
		fmt.Fprintf(&b, "    class %s pending\n", strings.Join(pending, ","))
	}

	if len(overrides) > 0 {
		b.WriteString("    classDef override stroke-dasharray: 5 5\n")
		fmt.Fprintf(&b, "    class %s override\n", strings.Join(overrides, ","))
	}

	return b.String()
}

func shape(id, label string, node Node) string {
	label = strings.ReplaceAll(label, `"`, "#quot;")

	switch node.(type) {
	case *HumanNode:
		return fmt.Sprintf(`%s(["%s"])`, id, label)
	case *StartNode:
		return fmt.Sprintf(`%s(("%s"))`, id, label)
	case *JoinNode:
		return fmt.Sprintf(`%s{{"%s"}}`, id, label)
	default:
		return fmt.Sprintf(`%s["%s"]`, id, label)
	}
}

func mermaidID(name string) string {
	var b strings.Builder

	b.WriteString("n_")

	for _, r := range name {
		if r == '_' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	return b.String()
}
