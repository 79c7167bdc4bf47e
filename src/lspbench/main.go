package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/lspbench/lspbench/src/lspbench/app"
	"github.com/lspbench/lspbench/src/lspbench/controller/orchestrator"
	"github.com/lspbench/lspbench/src/lspbench/internal/core"
	"github.com/lspbench/lspbench/src/lspbench/internal/fs"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func opts(configPath string, verify bool) fx.Option {
	return fx.Options(
		app.Module,
		fx.Supply(core.Source{Path: configPath}),
		fx.Supply(orchestrator.Options{Verify: verify}),
		fx.Invoke(registerRun),
		fx.NopLogger,
	)
}

func main() {
	configPath := flag.String("config", "benchmark.yaml", "config file path")
	verifyFlag := flag.Bool("verify", false, "check responses against expect fields and exit non-zero on mismatch")
	flag.Parse()

	if flag.Arg(0) == "init" {
		if err := app.InitConfig(fs.New(), *configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Created %s\n\nEdit the file to configure your servers, then run:\n  lsp-bench\n", *configPath)
		return
	}

	fxApp := fx.New(opts(*configPath, *verifyFlag))
	if err := fxApp.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "lsp-bench:", err)
		os.Exit(orchestrator.ExitConfigError)
	}
	fxApp.Run()
}

// registerRun starts the benchmark once the app is up and shuts the app
// down with the orchestrator's exit code.
func registerRun(lc fx.Lifecycle, o orchestrator.Orchestrator, sd fx.Shutdowner, logger *zap.SugaredLogger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				code, err := o.Run(context.Background())
				if err != nil {
					logger.Errorw("benchmark run failed", "error", err)
				}
				sd.Shutdown(fx.ExitCode(code))
			}()
			return nil
		},
	})
}
