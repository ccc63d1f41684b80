package main

import (
	"context"

	cli "github.com/urfave/cli/v3"
)

func artifactCmd() *cli.Command {
	return &cli.Command{
		Name:  "artifact",
		Usage: "Inspect captured artifacts and their lineage",
		Commands: []*cli.Command{
			{
				Name:      "show",
				Usage:     "Show an artifact with its ancestors, descendants, and hash siblings",
				ArgsUsage: "<artifact-id>",
				Flags:     []cli.Flag{serverFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					var result map[string]interface{}
					if err := newAPIClient(cmd.String("server")).do("GET", "/artifacts/"+cmd.Args().First(), nil, &result); err != nil {
						return err
					}
					return printJSON(result)
				},
			},
			{
				Name:  "search",
				Usage: "Search artifacts by workflow, agent, name, or type",
				Flags: []cli.Flag{
					serverFlag(),
					&cli.StringFlag{Name: "workflow", Usage: "filter by workflow id"},
					&cli.StringFlag{Name: "agent", Usage: "filter by owning agent"},
					&cli.StringFlag{Name: "name", Usage: "filter by file name"},
					&cli.StringFlag{Name: "type", Usage: "filter by file type/extension"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					path := "/artifacts?workflow_id=" + cmd.String("workflow") +
						"&agent=" + cmd.String("agent") +
						"&name=" + cmd.String("name") +
						"&type=" + cmd.String("type")
					var result []map[string]interface{}
					if err := newAPIClient(cmd.String("server")).do("GET", path, nil, &result); err != nil {
						return err
					}
					return printJSON(result)
				},
			},
		},
	}
}
