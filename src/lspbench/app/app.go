// Package app assembles the lsp-bench application modules.
package app

import (
	"context"
	"time"

	"github.com/lspbench/lspbench/src/lspbench/controller/bench"
	"github.com/lspbench/lspbench/src/lspbench/controller/orchestrator"
	"github.com/lspbench/lspbench/src/lspbench/controller/verify"
	"github.com/lspbench/lspbench/src/lspbench/internal/clock"
	"github.com/lspbench/lspbench/src/lspbench/internal/core"
	"github.com/lspbench/lspbench/src/lspbench/internal/executor"
	"github.com/lspbench/lspbench/src/lspbench/internal/fs"
	"github.com/lspbench/lspbench/src/lspbench/internal/rss"
	"github.com/lspbench/lspbench/src/lspbench/internal/session"
	"github.com/uber-go/tally"
	"go.uber.org/fx"
)

// Module defines the lsp-bench application module.
var Module = fx.Options(
	core.ConfigModule,
	core.LoggerModule,
	fs.Module,
	executor.Module,
	clock.Module,
	rss.Module,
	session.Module,
	bench.Module,
	verify.Module,
	orchestrator.Module,
	fx.Provide(func(lc fx.Lifecycle) tally.Scope {
		rs, closer := tally.NewRootScope(tally.ScopeOptions{
			Tags: map[string]string{
				"service": "lsp-bench",
			},
		}, 1*time.Second)

		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return closer.Close()
			},
		})

		return rs
	}),
)
