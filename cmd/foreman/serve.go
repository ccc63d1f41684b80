package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/opsdeck/foreman/internal/agent"
	"github.com/opsdeck/foreman/internal/approval"
	"github.com/opsdeck/foreman/internal/brief"
	"github.com/opsdeck/foreman/internal/bus"
	"github.com/opsdeck/foreman/internal/clock"
	"github.com/opsdeck/foreman/internal/executor"
	"github.com/opsdeck/foreman/internal/httpapi"
	"github.com/opsdeck/foreman/internal/lineage"
	"github.com/opsdeck/foreman/internal/metrics"
	"github.com/opsdeck/foreman/internal/orchestrator"
	"github.com/opsdeck/foreman/internal/planner"
	"github.com/opsdeck/foreman/internal/repository"
	"github.com/opsdeck/foreman/internal/repository/sqlstore"
	"github.com/opsdeck/foreman/internal/ruleset"
	"github.com/opsdeck/foreman/internal/scheduler"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the orchestration engine and its HTTP control surface",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "HTTP listen address", Value: ":8080"},
			&cli.StringFlag{Name: "workspace-root", Usage: "root directory holding one subdirectory per agent", Value: "./workspace"},
			&cli.StringFlag{Name: "db", Usage: "path to the SQLite database file; empty means in-memory only"},
			&cli.StringFlag{Name: "ruleset", Usage: "path to a YAML ruleset overriding the built-in defaults"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			defer log.Sync()
			sugar := log.Sugar()

			rules := ruleset.Default()
			if path := cmd.String("ruleset"); path != "" {
				rules, err = ruleset.Load(path)
				if err != nil {
					return fmt.Errorf("loading ruleset: %w", err)
				}
			}

			var repo repository.Repository
			if dbPath := cmd.String("db"); dbPath != "" {
				store, err := sqlstore.Open(dbPath)
				if err != nil {
					return fmt.Errorf("opening store: %w", err)
				}
				defer store.Close()
				repo = store
				sugar.Infow("using sqlite-backed store", "path", dbPath)
			} else {
				repo = repository.NewMemory()
				sugar.Infow("using in-memory store; state will not survive a restart")
			}

			b := bus.New()
			c := clock.Real{}
			workspaceRoot := cmd.String("workspace-root")

			registry := agent.NewRegistry(agent.DefaultRoster())

			lin := lineage.New(repo, b, c)
			exec := executor.New(b, c, lin)
			briefs := brief.New(c, registry)
			pl := planner.New(rules, registry)

			var orch *orchestrator.Orchestrator
			sched := scheduler.New(b, c, exec, workspaceRoot, func(workflowID string) {
				orch.OnTaskProgress(workflowID)
			})
			gate := approval.New(repo, b, c, rules)
			orch = orchestrator.New(sugar, repo, b, c, briefs, pl, sched, lin, gate)

			reg := metrics.New()
			go metrics.Listen(ctx, b, reg)
			go sched.Run(ctx)

			srv := httpapi.New(sugar, orch, briefs, lin, b, reg, workspaceRoot)
			sugar.Infow("foreman engine starting", "addr", cmd.String("addr"))
			if err := srv.ListenAndServe(ctx, cmd.String("addr")); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		},
	}
}
