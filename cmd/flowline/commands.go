package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukex/flowline/pkg/cmd"
	"github.com/dukex/flowline/pkg/graph"
	"github.com/dukex/flowline/pkg/log"
	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/dukex/flowline/pkg/workflow"
	"github.com/urfave/cli/v3"
)

var errMissingArgument = errors.New("missing argument")

// NewApp returns the admin command tree. Every command opens the configured backends, acts and prints JSON.
func NewApp() *cli.Command {
	userFlag := &cli.StringFlag{
		Name:    "user",
		Aliases: []string{"u"},
		Usage:   "Acting user id, recorded as the completing user",
		Sources: cli.EnvVars("FLOWLINE_USER"),
	}

	stateFlag := &cli.StringFlag{
		Name:    "state",
		Aliases: []string{"s"},
		Usage:   "Workflow state as a JSON object",
	}

	return &cli.Command{
		Name:                  "flowline",
		Usage:                 "Start, complete and repair workflows",
		EnableShellCompletion: true,
		Flags:                 cmd.BackendFlags(),
		Commands: []*cli.Command{
			{
				Name:      "start",
				Usage:     "Start a workflow from a start node or a human node without incoming edges",
				ArgsUsage: "<type> <node>",
				Flags:     []cli.Flag{userFlag, stateFlag},
				Action:    withEngine(startWorkflow),
			},
			{
				Name:      "complete",
				Usage:     "Complete a pending human task",
				ArgsUsage: "<task-id>",
				Flags:     []cli.Flag{userFlag, stateFlag},
				Action:    withEngine(completeTask),
			},
			{
				Name:      "rerun",
				Usage:     "Schedule tasks again; succeeded tasks are skipped",
				ArgsUsage: "<task-id>...",
				Action:    withEngine(rerunTasks),
			},
			{
				Name:      "cancel",
				Usage:     "Cancel scheduled tasks",
				ArgsUsage: "<task-id>...",
				Flags:     []cli.Flag{userFlag},
				Action:    withEngine(cancelTasks),
			},
			{
				Name:      "cancel-workflow",
				Usage:     "Cancel every scheduled task of a workflow",
				ArgsUsage: "<workflow-id>",
				Flags:     []cli.Flag{userFlag},
				Action:    withEngine(cancelWorkflow),
			},
			{
				Name:      "override",
				Usage:     "Cancel the active tasks of a workflow and continue from the given nodes",
				ArgsUsage: "<workflow-id> <node>...",
				Flags:     []cli.Flag{userFlag, stateFlag},
				Action:    withEngine(overrideWorkflow),
			},
			{
				Name:      "tasks",
				Usage:     "List the tasks of a workflow",
				ArgsUsage: "<workflow-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "Only tasks of this node"},
					&cli.StringFlag{Name: "status", Usage: "Only tasks in this status (scheduled, succeeded, failed, canceled)"},
				},
				Action: withEngine(listTasks),
			},
			{
				Name:      "graph",
				Usage:     "Print a Mermaid flowchart of a workflow, or of a workflow type with --type",
				ArgsUsage: "[<workflow-id>]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Usage: "Workflow type to draw"},
				},
				Action: withEngine(drawGraph),
			},
		},
	}
}

type action func(ctx context.Context, command *cli.Command, engine *workflow.Engine) error

func withEngine(fn action) cli.ActionFunc {
	return func(ctx context.Context, command *cli.Command) error {
		cfg, err := cmd.LoadConfig(command)
		if err != nil {
			return err
		}

		logger := log.Setup(cfg.LogLevel, cfg.LogFormat).With("module", "flowline")

		backends, err := cmd.OpenBackends(ctx, cfg, logger, "flowline")
		if err != nil {
			return err
		}
		defer backends.Close(context.WithoutCancel(ctx))

		return fn(ctx, command, backends.Engine)
	}
}

func args(command *cli.Command, minimum int) ([]string, error) {
	values := command.Args().Slice()
	if len(values) < minimum {
		return nil, fmt.Errorf("%w: usage %s %s", errMissingArgument, command.Name, command.ArgsUsage)
	}

	return values, nil
}

func user(command *cli.Command) *models.User {
	id := command.String("user")
	if id == "" {
		return &models.User{Anonymous: true}
	}

	return models.NewUser(id)
}

func state(command *cli.Command) (models.State, error) {
	raw := command.String("state")
	if raw == "" {
		return nil, nil
	}

	var s models.State

	err := json.Unmarshal([]byte(raw), &s)
	if err != nil {
		return nil, fmt.Errorf("invalid --state: %w", err)
	}

	return s, nil
}

func printJSON(command *cli.Command, value any) error {
	encoder := json.NewEncoder(command.Root().Writer)
	encoder.SetIndent("", "  ")

	return encoder.Encode(value)
}

func startWorkflow(ctx context.Context, command *cli.Command, engine *workflow.Engine) error {
	values, err := args(command, 2)
	if err != nil {
		return err
	}

	s, err := state(command)
	if err != nil {
		return err
	}

	result, err := engine.CompleteHumanTask(ctx, workflow.Completion{
		WorkflowType: values[0],
		Node:         values[1],
		User:         user(command),
		State:        s,
	})
	if err == nil {
		return printJSON(command, result)
	}

	if !errors.Is(err, workflow.ErrNotHumanNode) {
		return err
	}

	wf, err := engine.Start(ctx, values[0], values[1], s, user(command))
	if err != nil {
		return err
	}

	return printJSON(command, wf)
}

func completeTask(ctx context.Context, command *cli.Command, engine *workflow.Engine) error {
	values, err := args(command, 1)
	if err != nil {
		return err
	}

	s, err := state(command)
	if err != nil {
		return err
	}

	result, err := engine.CompleteHumanTask(ctx, workflow.Completion{TaskID: values[0], User: user(command), State: s})
	if err != nil {
		return err
	}

	return printJSON(command, result)
}

func rerunTasks(ctx context.Context, command *cli.Command, engine *workflow.Engine) error {
	values, err := args(command, 1)
	if err != nil {
		return err
	}

	report, err := engine.Rerun(ctx, values)
	if err != nil {
		return err
	}

	return printJSON(command, report)
}

func cancelTasks(ctx context.Context, command *cli.Command, engine *workflow.Engine) error {
	values, err := args(command, 1)
	if err != nil {
		return err
	}

	report, err := engine.CancelTasks(ctx, values, user(command))
	if err != nil {
		return err
	}

	return printJSON(command, report)
}

func cancelWorkflow(ctx context.Context, command *cli.Command, engine *workflow.Engine) error {
	values, err := args(command, 1)
	if err != nil {
		return err
	}

	canceled, err := engine.CancelWorkflow(ctx, values[0], user(command))
	if err != nil {
		return err
	}

	return printJSON(command, map[string]int{"canceled": canceled})
}

func overrideWorkflow(ctx context.Context, command *cli.Command, engine *workflow.Engine) error {
	values, err := args(command, 2)
	if err != nil {
		return err
	}

	s, err := state(command)
	if err != nil {
		return err
	}

	result, err := engine.Override(ctx, values[0], values[1:], s, user(command))
	if err != nil {
		return err
	}

	return printJSON(command, result)
}

func listTasks(ctx context.Context, command *cli.Command, engine *workflow.Engine) error {
	values, err := args(command, 1)
	if err != nil {
		return err
	}

	filter := persistence.ForWorkflow(values[0])

	if name := command.String("name"); name != "" {
		filter = filter.Named(name)
	}

	if status := command.String("status"); status != "" {
		filter.Statuses = []models.TaskStatus{models.TaskStatus(status)}
	}

	tasks, err := engine.Tasks(ctx, filter)
	if err != nil {
		return err
	}

	if tasks == nil {
		tasks = []*models.Task{}
	}

	return printJSON(command, tasks)
}

func drawGraph(ctx context.Context, command *cli.Command, engine *workflow.Engine) error {
	if typeName := command.String("type"); typeName != "" {
		t, err := engine.Registry().Type(typeName)
		if err != nil {
			return err
		}

		_, err = fmt.Fprint(command.Root().Writer, graph.Mermaid(t))

		return err
	}

	values, err := args(command, 1)
	if err != nil {
		return err
	}

	diagram, err := engine.Mermaid(ctx, values[0])
	if err != nil {
		return err
	}

	_, err = fmt.Fprint(command.Root().Writer, diagram)

	return err
}
