// Package orchestrator drives the configured (server × method) matrix
// strictly serially, persists partial artifacts after every pair and emits
// the final artifact.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/lspbench/lspbench/src/lspbench/controller/bench"
	"github.com/lspbench/lspbench/src/lspbench/controller/verify"
	"github.com/lspbench/lspbench/src/lspbench/entity"
	"github.com/lspbench/lspbench/src/lspbench/internal/clock"
	"github.com/lspbench/lspbench/src/lspbench/internal/executor"
	"github.com/lspbench/lspbench/src/lspbench/internal/fs"
	"github.com/lspbench/lspbench/src/lspbench/mapper"
	"github.com/uber-go/tally"
	"go.lsp.dev/uri"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// Exit codes of the run.
const (
	ExitOK          = 0
	ExitVerifyFail  = 1
	ExitConfigError = 2
)

// Options are the CLI-level switches affecting a run.
type Options struct {
	Verify bool
}

// Orchestrator executes the whole benchmark run.
type Orchestrator interface {
	// Run returns the process exit code. An error is returned only for
	// fatal, run-terminating conditions.
	Run(ctx context.Context) (int, error)
}

// Params define values to be used by the orchestrator.
type Params struct {
	fx.In

	Logger   *zap.SugaredLogger
	Config   *entity.Config
	Runner   bench.Runner
	Verifier verify.Checker
	FS       fs.BenchFS
	Executor executor.Executor
	Stats    tally.Scope
	Clock    clock.Clock
	Options  Options
}

type orchestrator struct {
	logger   *zap.SugaredLogger
	cfg      *entity.Config
	runner   bench.Runner
	verifier verify.Checker
	fs       fs.BenchFS
	exec     executor.Executor
	stats    tally.Scope
	clk      clock.Clock
	opts     Options
}

// New creates an Orchestrator.
func New(p Params) Orchestrator {
	return &orchestrator{
		logger:   p.Logger,
		cfg:      p.Config,
		runner:   p.Runner,
		verifier: p.Verifier,
		fs:       p.FS,
		exec:     p.Executor,
		stats:    p.Stats,
		clk:      p.Clock,
		opts:     p.Options,
	}
}

func (o *orchestrator) Run(ctx context.Context) (int, error) {
	methods, err := entity.ExpandMethods(o.cfg.Benchmarks)
	if err != nil {
		return ExitConfigError, err
	}

	projectAbs, err := filepath.Abs(o.cfg.Project)
	if err != nil {
		return ExitConfigError, fmt.Errorf("resolving project path: %w", err)
	}
	if ok, err := o.fs.DirExists(projectAbs); err != nil || !ok {
		return ExitConfigError, fmt.Errorf("project directory not found: %s", o.cfg.Project)
	}
	fileAbs := filepath.Join(projectAbs, o.cfg.File)
	fileExists, err := o.fs.FileExists(fileAbs)
	if err != nil {
		return ExitConfigError, fmt.Errorf("checking benchmark file: %w", err)
	}
	if !fileExists {
		o.logger.Warnw("benchmark file not found, all pairs will fail", "file", fileAbs)
	}

	availability := make(map[string]bool, len(o.cfg.Servers))
	for _, srv := range o.cfg.Servers {
		availability[srv.Label] = o.available(srv.Cmd)
		if !availability[srv.Label] {
			o.logger.Warnw("server not found, skipping", "server", srv.Label, "cmd", srv.Cmd)
		}
	}

	o.logger.Infow("detecting versions")
	versions := make([]entity.ServerVersion, 0, len(o.cfg.Servers))
	for _, srv := range o.cfg.Servers {
		if !availability[srv.Label] {
			continue
		}
		version := o.detectVersion(srv.Cmd)
		o.logger.Infow("server version", "server", srv.Label, "version", version)
		versions = append(versions, entity.ServerVersion{Label: srv.Label, Version: version})
	}

	now := o.clk.Now().UTC()
	timestamp := now.Format(time.RFC3339)
	date := now.Format("2006-01-02")
	partialDir := filepath.Join(o.cfg.Output, "partial")

	var entries []entity.BenchmarkEntry
	var tallySum entity.VerifyOutcome

	for num, method := range methods {
		o.logger.Infow("benchmark", "name", method.Name, "num", num+1, "total", len(methods))
		override, _ := o.cfg.MethodOverride(method.Name)

		entry := entity.BenchmarkEntry{
			Name:  method.Name,
			Input: o.requestInput(method, override, fileAbs),
		}
		entries = append(entries, entry)

		for _, srv := range o.cfg.Servers {
			var res entity.Result
			switch {
			case !availability[srv.Label]:
				res = entity.Result{Server: srv.Label, Status: entity.StatusFail, Reason: "spawn: not found"}
			case !fileExists:
				res = entity.Result{Server: srv.Label, Status: entity.StatusFail, Reason: fmt.Sprintf("open: %s: no such file", fileAbs)}
			default:
				res = o.runner.Run(ctx, srv, method)
			}
			o.report(method.Name, res)
			entry.Servers = append(entry.Servers, res)
			entries[len(entries)-1] = entry

			if path, err := o.writeArtifact(partialDir, timestamp, date, versions, entries, false); err != nil {
				o.logger.Warnw("saving partial artifact", "error", err)
			} else {
				o.logger.Debugw("saved partial artifact", "path", path)
			}
		}

		if o.opts.Verify {
			tallySum.Add(o.verifier.CheckMethod(method, override, entry.Servers))
		}
	}

	if len(entries) > 0 {
		path, err := o.writeArtifact(o.cfg.Output, timestamp, date, versions, entries, true)
		if err != nil {
			return ExitConfigError, fmt.Errorf("writing artifact: %w", err)
		}
		o.logger.Infow("saved artifact", "path", path)
		// The final artifact supersedes every partial save.
		if err := o.fs.RemoveAll(partialDir); err != nil {
			o.logger.Warnw("removing partial artifacts", "error", err)
		}
	}

	if o.opts.Verify {
		return o.verifySummary(tallySum), nil
	}
	return ExitOK, nil
}

// requestInput renders the JSON-RPC envelope stored alongside the method's
// results. Lifecycle and diagnostics benchmarks carry no measured request.
func (o *orchestrator) requestInput(method entity.MethodInfo, override entity.MethodConfig, fileAbs string) json.RawMessage {
	if method.Name == entity.MethodInitialize || method.Name == entity.MethodDiagnostic {
		return nil
	}
	params := mapper.RequestParams(method.Name, uri.File(fileAbs), mapper.OptionsFor(override, o.cfg.CursorFor(method.Name)))
	envelope, err := mapper.RequestEnvelope(method.Name, params)
	if err != nil {
		o.logger.Warnw("rendering request envelope", "method", method.Name, "error", err)
		return nil
	}
	return envelope
}

func (o *orchestrator) report(methodName string, res entity.Result) {
	o.stats.Counter("pairs_" + string(res.Status)).Inc(1)
	switch res.Status {
	case entity.StatusOK:
		o.logger.Infow("pass",
			"method", methodName,
			"server", res.Server,
			"mean_ms", res.Stats.Mean,
			"p50_ms", res.Stats.P50,
			"p95_ms", res.Stats.P95,
		)
	case entity.StatusInvalid:
		o.logger.Infow("invalid response", "method", methodName, "server", res.Server)
	default:
		o.logger.Infow("fail", "method", methodName, "server", res.Server, "reason", res.Reason)
	}
}

// writeArtifact serializes the artifact into dir. The final write goes
// through a staging file and a rename so readers never observe a torn
// artifact.
func (o *orchestrator) writeArtifact(dir, timestamp, date string, versions []entity.ServerVersion, entries []entity.BenchmarkEntry, atomic bool) (string, error) {
	artifact := mapper.BuildArtifact(o.cfg, versions, entries, timestamp, date)
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return "", err
	}
	if err := o.fs.MkdirAll(dir); err != nil {
		return "", err
	}
	name := strings.ReplaceAll(timestamp, ":", "-") + ".json"
	path := filepath.Join(dir, name)
	if !atomic {
		return path, o.fs.WriteFile(path, data)
	}
	tmp := path + ".tmp"
	if err := o.fs.WriteFile(tmp, data); err != nil {
		return "", err
	}
	if err := o.fs.Rename(tmp, path); err != nil {
		return "", err
	}
	return path, nil
}

func (o *orchestrator) verifySummary(tallySum entity.VerifyOutcome) int {
	checks := tallySum.Passed + tallySum.Failed
	switch {
	case checks == 0 && tallySum.Skipped > 0:
		o.logger.Warnw("no expect fields found in config", "skipped", tallySum.Skipped)
		return ExitOK
	case tallySum.Failed == 0:
		o.logger.Infow("verify passed", "passed", tallySum.Passed, "checks", checks)
		return ExitOK
	default:
		o.logger.Warnw("verify failed", "failed", tallySum.Failed, "checks", checks)
		return ExitVerifyFail
	}
}
