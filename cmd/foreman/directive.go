package main

import (
	"context"

	cli "github.com/urfave/cli/v3"
)

func directiveCmd() *cli.Command {
	return &cli.Command{
		Name:  "directive",
		Usage: "Submit a directive for clarification",
		Commands: []*cli.Command{
			{
				Name:      "analyze",
				Usage:     "Analyze a directive and open a clarification brief",
				ArgsUsage: "<directive text>",
				Flags: []cli.Flag{
					serverFlag(),
					&cli.StringFlag{Name: "submitter", Usage: "who is submitting the directive", Value: "operator"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					var result map[string]interface{}
					err := newAPIClient(cmd.String("server")).do("POST", "/directives", map[string]string{
						"directive": cmd.Args().First(),
						"submitter": cmd.String("submitter"),
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

func briefCmd() *cli.Command {
	return &cli.Command{
		Name:  "brief",
		Usage: "Inspect and respond to clarification briefs",
		Commands: []*cli.Command{
			{
				Name:      "show",
				Usage:     "Show a brief",
				ArgsUsage: "<brief-id>",
				Flags:     []cli.Flag{serverFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					var result map[string]interface{}
					if err := newAPIClient(cmd.String("server")).do("GET", "/briefs/"+cmd.Args().First(), nil, &result); err != nil {
						return err
					}
					return printJSON(result)
				},
			},
			{
				Name:      "respond",
				Usage:     "Answer a clarifying question",
				ArgsUsage: "<brief-id> <question-id> <response>",
				Flags:     []cli.Flag{serverFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					args := cmd.Args().Slice()
					if len(args) < 3 {
						return cli.Exit("usage: foreman brief respond <brief-id> <question-id> <response>", 1)
					}
					var result map[string]interface{}
					path := "/briefs/" + args[0] + "/respond"
					err := newAPIClient(cmd.String("server")).do("POST", path, map[string]string{
						"question_id": args[1],
						"response":    args[2],
					}, &result)
					if err != nil {
						return err
					}
					return printJSON(result)
				},
			},
			{
				Name:      "finalize",
				Usage:     "Finalize a brief once every required question is answered",
				ArgsUsage: "<brief-id>",
				Flags:     []cli.Flag{serverFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					var result map[string]interface{}
					path := "/briefs/" + cmd.Args().First() + "/finalize"
					if err := newAPIClient(cmd.String("server")).do("POST", path, nil, &result); err != nil {
						return err
					}
					return printJSON(result)
				},
			},
		},
	}
}
