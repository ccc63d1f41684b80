package main

import (
	"context"

	cli "github.com/urfave/cli/v3"
)

func approvalCmd() *cli.Command {
	return &cli.Command{
		Name:  "approval",
		Usage: "Record executive approval decisions",
		Commands: []*cli.Command{
			{
				Name:      "decide",
				Usage:     "Approve, reject, or request revision on a workflow",
				ArgsUsage: "<workflow-id> <approved|rejected|needs_revision>",
				Flags: []cli.Flag{
					serverFlag(),
					&cli.StringFlag{Name: "approver", Usage: "who is deciding", Value: "ceo"},
					&cli.StringFlag{Name: "comments", Usage: "decision comments"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					args := cmd.Args().Slice()
					if len(args) < 2 {
						return cli.Exit("usage: foreman approval decide <workflow-id> <decision>", 1)
					}
					var result map[string]interface{}
					path := "/workflows/" + args[0] + "/approval"
					err := newAPIClient(cmd.String("server")).do("POST", path, map[string]string{
						"decision": args[1],
						"approver": cmd.String("approver"),
						"comments": cmd.String("comments"),
					}, &result)
					if err != nil {
						return err
					}
					return printJSON(result)
				},
			},
			{
				Name:      "emergency-unblock",
				Usage:     "Force a workflow to completion regardless of pending approval state",
				ArgsUsage: "<workflow-id>",
				Flags: []cli.Flag{
					serverFlag(),
					&cli.StringFlag{Name: "approver", Usage: "who is unblocking", Value: "ceo"},
					&cli.StringFlag{Name: "reason", Usage: "why this is an emergency"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					var result map[string]interface{}
					path := "/workflows/" + cmd.Args().First() + "/emergency-unblock"
					err := newAPIClient(cmd.String("server")).do("POST", path, map[string]string{
						"approver": cmd.String("approver"),
						"reason":   cmd.String("reason"),
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
