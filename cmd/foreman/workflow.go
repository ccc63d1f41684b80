package main

import (
	"context"

	cli "github.com/urfave/cli/v3"
)

func workflowCmd() *cli.Command {
	return &cli.Command{
		Name:  "workflow",
		Usage: "Create, inspect, and cancel workflows",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a workflow from a directive or a finalized brief",
				Flags: []cli.Flag{
					serverFlag(),
					&cli.StringFlag{Name: "directive", Usage: "raw directive, skipping clarification"},
					&cli.StringFlag{Name: "brief-id", Usage: "id of a finalized brief"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					var result map[string]interface{}
					err := newAPIClient(cmd.String("server")).do("POST", "/workflows", map[string]string{
						"directive": cmd.String("directive"),
						"brief_id":  cmd.String("brief-id"),
					}, &result)
					if err != nil {
						return err
					}
					return printJSON(result)
				},
			},
			{
				Name:      "status",
				Usage:     "Show a workflow's current state",
				ArgsUsage: "<workflow-id>",
				Flags:     []cli.Flag{serverFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					var result map[string]interface{}
					if err := newAPIClient(cmd.String("server")).do("GET", "/workflows/"+cmd.Args().First(), nil, &result); err != nil {
						return err
					}
					return printJSON(result)
				},
			},
			{
				Name:  "list",
				Usage: "List workflows, optionally filtered by status",
				Flags: []cli.Flag{
					serverFlag(),
					&cli.StringFlag{Name: "status", Usage: "filter by workflow status"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					path := "/workflows"
					if status := cmd.String("status"); status != "" {
						path += "?status=" + status
					}
					var result []map[string]interface{}
					if err := newAPIClient(cmd.String("server")).do("GET", path, nil, &result); err != nil {
						return err
					}
					return printJSON(result)
				},
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a workflow",
				ArgsUsage: "<workflow-id>",
				Flags: []cli.Flag{
					serverFlag(),
					&cli.StringFlag{Name: "reason", Usage: "why the workflow is being cancelled"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					var result map[string]interface{}
					path := "/workflows/" + cmd.Args().First() + "/cancel"
					err := newAPIClient(cmd.String("server")).do("POST", path, map[string]string{
						"reason": cmd.String("reason"),
					}, &result)
					if err != nil {
						return err
					}
					return printJSON(result)
				},
			},
		},
	}
}
