// Package samples declares the workflow types shipped with the flowline binaries. They double as end-to-end
// fixtures for the engine.
package samples

import (
	"context"
	"errors"
	"time"

	"github.com/dukex/flowline/pkg/graph"
	"github.com/dukex/flowline/pkg/models"
)

// Type names.
const (
	Shipping  = "shipping"
	Simple    = "simple"
	Assignee  = "assignee"
	Gateway   = "gateway"
	SplitJoin = "split_join"
	Loop      = "loop"
	Wait      = "wait"
	Failing   = "failing"
)

// WaitDuration is how long the wait sample holds its instances.
const WaitDuration = 3 * time.Hour

// Types returns a fresh copy of every sample type.
func Types() []*graph.Type {
	return []*graph.Type{
		ShippingType(),
		SimpleType(),
		AssigneeType(),
		GatewayType(),
		SplitJoinType(),
		LoopType(),
		WaitType(),
		FailingType(),
	}
}

func end(context.Context, *graph.Execution) (graph.Result, error) {
	return graph.Continue(), nil
}

// ShippingType is started by a checkout form; the tracking code is only sent when an email was given.
func ShippingType() *graph.Type {
	hasEmail := func(_ context.Context, ex *graph.Execution) (graph.Result, error) {
		if ex.State().String("email") != "" {
			return graph.Next("send_tracking_code"), nil
		}

		return graph.Next("end"), nil
	}

	sendTrackingCode := func(ctx context.Context, ex *graph.Execution) (graph.Result, error) {
		ex.Logger.InfoContext(ctx, "Sending tracking code",
			"email", ex.State().String("email"),
			"tracking_code", ex.State().String("tracking_code"),
		)

		ex.State().Set("tracking_code_sent", true)

		return graph.Continue(), ex.Save(ctx, "tracking_code_sent")
	}

	return graph.NewType(Shipping).
		Node(
			graph.Human("checkout", graph.Fields("shipping_address", "email")),
			graph.Human("ship", graph.Fields("tracking_code")),
			graph.Machine("has_email", hasEmail),
			graph.Machine("send_tracking_code", sendTrackingCode),
			graph.Machine("end", end),
		).
		Edge("checkout", "ship").
		Edge("ship", "has_email").
		Edges("has_email", "send_tracking_code", "end").
		Edge("send_tracking_code", "end").
		MustBuild()
}

var princessFields = graph.Fields("princess", "dragon")

// SimpleType can be started from a form or programmatically.
func SimpleType() *graph.Type {
	return graph.NewType(Simple).
		Node(
			graph.Human("start_view", princessFields),
			graph.Start("start_method"),
			graph.Human("save_the_princess", princessFields),
			graph.Machine("end", end),
		).
		Edge("start_view", "save_the_princess").
		Edge("start_method", "save_the_princess").
		Edge("save_the_princess", "end").
		MustBuild()
}

// AssigneeType assigns the rescue to whoever completed the previous task.
func AssigneeType() *graph.Type {
	previousUser := func(ctx context.Context, ex *graph.Execution, task *models.Task) ([]string, error) {
		parents, err := ex.Tx.Parents(ctx, task.ID)
		if err != nil {
			return nil, err
		}

		var users []string

		for _, parent := range parents {
			if parent.CompletedBy != nil {
				users = append(users, *parent.CompletedBy)
			}
		}

		return users, nil
	}

	return graph.NewType(Assignee).
		Node(
			graph.Human("start_view", princessFields),
			graph.Start("start_method"),
			graph.Human("save_the_princess", princessFields, graph.AssignTo(previousUser)),
			graph.Machine("end", end),
		).
		Edge("start_view", "save_the_princess").
		Edge("start_method", "save_the_princess").
		Edge("save_the_princess", "end").
		MustBuild()
}

// GatewayType always takes the happy branch of its gateway.
func GatewayType() *graph.Type {
	isPrincessSafe := func(context.Context, *graph.Execution) (graph.Result, error) {
		return graph.Next("happy_end"), nil
	}

	return graph.NewType(Gateway).
		Node(
			graph.Human("start", graph.Fields("princess")),
			graph.Machine("is_princess_safe", isPrincessSafe),
			graph.Machine("happy_end", end),
			graph.Machine("bad_end", end),
		).
		Edge("start", "is_princess_safe").
		Edges("is_princess_safe", "happy_end", "bad_end").
		MustBuild()
}

// SplitJoinType runs two branches in parallel and joins them.
func SplitJoinType() *graph.Type {
	increment := func(ctx context.Context, ex *graph.Execution) (graph.Result, error) {
		ex.State().Set("parallel_task_value", ex.State().Int("parallel_task_value")+1)

		return graph.Continue(), ex.Save(ctx, "parallel_task_value")
	}

	split := func(context.Context, *graph.Execution) (graph.Result, error) {
		return graph.Next("batman", "robin"), nil
	}

	return graph.NewType(SplitJoin).
		Node(
			graph.Start("start"),
			graph.Machine("split", split),
			graph.Machine("batman", increment),
			graph.Machine("robin", increment),
			graph.Join("join", "batman", "robin"),
		).
		Edge("start", "split").
		Edges("split", "batman", "robin").
		Edge("batman", "join").
		Edge("robin", "join").
		MustBuild()
}

// LoopType counts to ten through a cycle in the graph.
func LoopType() *graph.Type {
	increment := func(ctx context.Context, ex *graph.Execution) (graph.Result, error) {
		ex.State().Set("counter", ex.State().Int("counter")+1)

		return graph.Continue(), ex.Save(ctx, "counter")
	}

	isCounter10 := func(_ context.Context, ex *graph.Execution) (graph.Result, error) {
		if ex.State().Int("counter") == 10 {
			return graph.Next("end"), nil
		}

		return graph.Next("increment_counter"), nil
	}

	return graph.NewType(Loop).
		Node(
			graph.Start("start"),
			graph.Machine("increment_counter", increment),
			graph.Machine("is_counter_10", isCounter10),
			graph.Machine("end", end),
		).
		Edge("start", "increment_counter").
		Edge("increment_counter", "is_counter_10").
		Edges("is_counter_10", "increment_counter", "end").
		MustBuild()
}

// WaitType holds each instance for WaitDuration.
func WaitType() *graph.Type {
	return graph.NewType(Wait).
		Node(graph.Start("start"), graph.Wait("wait", WaitDuration), graph.Machine("end", end)).
		Edge("start", "wait").
		Edge("wait", "end").
		MustBuild()
}

// FailingType has a node that always fails.
func FailingType() *graph.Type {
	fail := func(context.Context, *graph.Execution) (graph.Result, error) {
		return graph.Result{}, errors.New("Boom!")
	}

	return graph.NewType(Failing).
		Node(graph.Start("start"), graph.Machine("fail", fail)).
		Edge("start", "fail").
		MustBuild()
}
