// Package bench runs one (server, method) measurement and emits a result
// record. Five variants cover lifecycle, diagnostics, shared-server,
// cold-start and chained iterations.
package bench

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/lspbench/lspbench/src/lspbench/entity"
	"github.com/lspbench/lspbench/src/lspbench/internal/clock"
	"github.com/lspbench/lspbench/src/lspbench/internal/fs"
	"github.com/lspbench/lspbench/src/lspbench/internal/session"
	"github.com/lspbench/lspbench/src/lspbench/mapper"
	"go.lsp.dev/uri"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// Runner benchmarks one method against one server. It never propagates
// errors upward; every outcome is a result record.
type Runner interface {
	Run(ctx context.Context, srv entity.ServerConfig, method entity.MethodInfo) entity.Result
}

// Params define values to be used by the runner.
type Params struct {
	fx.In

	Logger   *zap.SugaredLogger
	Clock    clock.Clock
	Sessions session.Factory
	FS       fs.BenchFS
	Config   *entity.Config
}

type runner struct {
	logger   *zap.SugaredLogger
	clk      clock.Clock
	sessions session.Factory
	fs       fs.BenchFS
	cfg      *entity.Config

	projectAbs string
	fileAbs    string
	rootURI    uri.URI
	language   string
}

// New creates a runner bound to the run configuration.
func New(p Params) (Runner, error) {
	projectAbs, err := filepath.Abs(p.Config.Project)
	if err != nil {
		return nil, fmt.Errorf("resolving project path: %w", err)
	}
	return &runner{
		logger:     p.Logger,
		clk:        p.Clock,
		sessions:   p.Sessions,
		fs:         p.FS,
		cfg:        p.Config,
		projectAbs: projectAbs,
		fileAbs:    filepath.Join(projectAbs, p.Config.File),
		rootURI:    uri.File(projectAbs),
		language:   mapper.LanguageID(p.Config.Language, p.Config.File),
	}, nil
}

func (r *runner) Run(ctx context.Context, srv entity.ServerConfig, method entity.MethodInfo) entity.Result {
	override, _ := r.cfg.MethodOverride(method.Name)

	switch {
	case method.Name == entity.MethodInitialize:
		return r.runLifecycle(ctx, srv)
	case method.Name == entity.MethodDiagnostic:
		return r.runDiagnostics(ctx, srv)
	case len(override.DidChange) > 0:
		return r.runSnapshotChain(ctx, srv, method, override)
	case len(override.Open) > 0:
		return r.runOpenChain(ctx, srv, method, override)
	case override.Cold:
		return r.runColdStart(ctx, srv, method, override)
	default:
		return r.runShared(ctx, srv, method, override)
	}
}

// sample is one measured iteration before classification.
type sample struct {
	ms       float64
	response json.RawMessage
}

// runLifecycle spawns a fresh server per iteration and times the
// initialize/initialized handshake, spawn included. The process is too
// short-lived for a meaningful RSS sample.
func (r *runner) runLifecycle(ctx context.Context, srv entity.ServerConfig) entity.Result {
	warmup, measured := *r.cfg.Warmup, *r.cfg.Iterations
	if warmup+measured == 0 {
		return r.failResult(srv, "no iterations", 0)
	}

	var samples []sample
	for i := 0; i < warmup+measured; i++ {
		start := r.clk.Now()
		sess, err := r.sessions.Spawn(r.spec(srv))
		if err != nil {
			return r.failResult(srv, err.Error(), 0)
		}
		if err := sess.Initialize(ctx, r.rootURI, r.cfg.RequestTimeout()); err != nil {
			rss := sess.RSS()
			sess.Close()
			return r.failResult(srv, err.Error(), rss)
		}
		ms := r.millis(start)
		r.logger.Debugw("handshake", "server", srv.Label, "iter", i, "ms", ms)
		if i >= warmup {
			samples = append(samples, sample{ms: ms, response: json.RawMessage(`"ok"`)})
		}
		sess.Close()
	}
	return r.assemble(srv, samples, 0)
}

// runDiagnostics spawns fresh per iteration and measures didOpen to the
// first publishDiagnostics for the primary file. RSS is sampled every
// iteration while the server is still alive, keeping the peak.
func (r *runner) runDiagnostics(ctx context.Context, srv entity.ServerConfig) entity.Result {
	warmup, measured := *r.cfg.Warmup, *r.cfg.Iterations
	if warmup+measured == 0 {
		return r.failResult(srv, "no iterations", 0)
	}

	var samples []sample
	var peakRSS int64
	for i := 0; i < warmup+measured; i++ {
		sess, err := r.sessions.Spawn(r.spec(srv))
		if err != nil {
			return r.failResult(srv, err.Error(), peakRSS)
		}
		if err := sess.Initialize(ctx, r.rootURI, r.cfg.RequestTimeout()); err != nil {
			rss := sess.RSS()
			sess.Close()
			return r.failResult(srv, err.Error(), rss)
		}
		docURI, err := sess.OpenFile(ctx, r.fileAbs, r.language)
		if err != nil {
			rss := sess.RSS()
			sess.Close()
			return r.failResult(srv, fmt.Sprintf("open: %v", err), rss)
		}
		start := r.clk.Now()
		raw, err := sess.WaitForDiagnostics(ctx, docURI, r.cfg.IndexTimeout())
		if err != nil {
			// The server is still alive on a timeout; sample before killing.
			rss := sess.RSS()
			sess.Close()
			return r.failResult(srv, "wait_for_diagnostics: "+reasonOf(err), rss)
		}
		ms := r.millis(start)
		if rss := sess.RSS(); rss > peakRSS {
			peakRSS = rss
		}
		r.logger.Debugw("diagnostics", "server", srv.Label, "iter", i, "ms", ms)
		if i >= warmup {
			samples = append(samples, sample{ms: ms, response: raw})
		}
		sess.Close()
	}
	return r.assemble(srv, samples, peakRSS)
}

// runShared spawns once, indexes once, then iterates the measured request.
// Indexing time is excluded from the timings.
func (r *runner) runShared(ctx context.Context, srv entity.ServerConfig, method entity.MethodInfo, override entity.MethodConfig) entity.Result {
	warmup, measured := *r.cfg.Warmup, *r.cfg.Iterations
	if warmup+measured == 0 {
		return r.failResult(srv, "no iterations", 0)
	}

	sess, docURI, rssKB, failed := r.openPrimary(ctx, srv)
	if failed != nil {
		return *failed
	}
	defer sess.Close()

	params := mapper.RequestParams(method.Name, docURI, mapper.OptionsFor(override, r.cfg.CursorFor(method.Name)))

	var samples []sample
	for i := 0; i < warmup+measured; i++ {
		start := r.clk.Now()
		raw, err := sess.Call(ctx, method.Name, params, r.cfg.RequestTimeout())
		ms := r.millis(start)
		if err != nil {
			callErr := asCallError(err)
			if callErr.Fatal() {
				return r.failResult(srv, callErr.Reason(), rssKB)
			}
			raw = errorResponse(callErr.Detail)
		}
		r.logger.Debugw("request", "server", srv.Label, "method", method.Name, "iter", i, "ms", ms)
		if i >= warmup {
			samples = append(samples, sample{ms: ms, response: raw})
		}
	}
	return r.assemble(srv, samples, rssKB)
}

// runColdStart spawns fresh per iteration and measures from before didOpen
// until the request's response arrives, so indexing triggered by the open
// is part of the measurement.
func (r *runner) runColdStart(ctx context.Context, srv entity.ServerConfig, method entity.MethodInfo, override entity.MethodConfig) entity.Result {
	warmup, measured := *r.cfg.Warmup, *r.cfg.Iterations
	if warmup+measured == 0 {
		return r.failResult(srv, "no iterations", 0)
	}

	params := mapper.RequestParams(method.Name, uri.File(r.fileAbs), mapper.OptionsFor(override, r.cfg.CursorFor(method.Name)))

	var samples []sample
	var peakRSS int64
	for i := 0; i < warmup+measured; i++ {
		sess, err := r.sessions.Spawn(r.spec(srv))
		if err != nil {
			return r.failResult(srv, err.Error(), peakRSS)
		}
		if err := sess.Initialize(ctx, r.rootURI, r.cfg.RequestTimeout()); err != nil {
			rss := sess.RSS()
			sess.Close()
			return r.failResult(srv, err.Error(), rss)
		}
		start := r.clk.Now()
		docURI, err := sess.OpenFile(ctx, r.fileAbs, r.language)
		if err != nil {
			rss := sess.RSS()
			sess.Close()
			return r.failResult(srv, fmt.Sprintf("open: %v", err), rss)
		}
		if _, err := sess.WaitForDiagnostics(ctx, docURI, r.cfg.IndexTimeout()); err != nil {
			rss := sess.RSS()
			sess.Close()
			return r.failResult(srv, "wait_for_diagnostics: "+reasonOf(err), rss)
		}
		raw, err := sess.Call(ctx, method.Name, params, r.cfg.RequestTimeout())
		ms := r.millis(start)
		if err != nil {
			callErr := asCallError(err)
			if callErr.Fatal() {
				rss := sess.RSS()
				sess.Close()
				return r.failResult(srv, callErr.Reason(), rss)
			}
			raw = errorResponse(callErr.Detail)
		}
		if rss := sess.RSS(); rss > peakRSS {
			peakRSS = rss
		}
		r.logger.Debugw("cold start", "server", srv.Label, "method", method.Name, "iter", i, "ms", ms)
		if i >= warmup {
			samples = append(samples, sample{ms: ms, response: raw})
		}
		sess.Close()
	}
	return r.assemble(srv, samples, peakRSS)
}

// runSnapshotChain spawns once, then replays each configured snapshot via
// didChange and issues one measured request at that snapshot's cursor.
// Every step is one iteration; there is no warmup phase.
func (r *runner) runSnapshotChain(ctx context.Context, srv entity.ServerConfig, method entity.MethodInfo, override entity.MethodConfig) entity.Result {
	sess, docURI, rssKB, failed := r.openPrimary(ctx, srv)
	if failed != nil {
		return *failed
	}
	defer sess.Close()

	var samples []sample
	for si, snap := range override.DidChange {
		path := filepath.Join(r.projectAbs, snap.File)
		content, err := r.fs.ReadFile(path)
		if err != nil {
			return r.failResult(srv, fmt.Sprintf("%s: %v", path, err), rssKB)
		}
		if err := sess.ChangeFile(ctx, docURI, string(content)); err != nil {
			return r.failResult(srv, asCallError(err).Reason(), rssKB)
		}

		params := mapper.RequestParams(method.Name, docURI, mapper.OptionsFor(override, entity.Cursor{Line: snap.Line, Col: snap.Col}))
		start := r.clk.Now()
		raw, err := sess.Call(ctx, method.Name, params, r.cfg.RequestTimeout())
		ms := r.millis(start)
		if err != nil {
			callErr := asCallError(err)
			if callErr.Fatal() {
				return r.failResult(srv, callErr.Reason(), rssKB)
			}
			raw = errorResponse(callErr.Detail)
		}
		r.logger.Debugw("snapshot", "server", srv.Label, "method", method.Name, "step", si, "ms", ms)
		samples = append(samples, sample{ms: ms, response: raw})
	}
	return r.assemble(srv, samples, rssKB)
}

// runOpenChain spawns once and issues a baseline request, then after each
// configured open (plus its diagnostics wait) re-issues the request on the
// original file. K opens yield K+1 iterations.
func (r *runner) runOpenChain(ctx context.Context, srv entity.ServerConfig, method entity.MethodInfo, override entity.MethodConfig) entity.Result {
	sess, docURI, rssKB, failed := r.openPrimary(ctx, srv)
	if failed != nil {
		return *failed
	}
	defer sess.Close()

	baseCursor := r.cfg.CursorFor(method.Name)

	var samples []sample
	call := func(cursor entity.Cursor) (*entity.Result, bool) {
		params := mapper.RequestParams(method.Name, docURI, mapper.OptionsFor(override, cursor))
		start := r.clk.Now()
		raw, err := sess.Call(ctx, method.Name, params, r.cfg.RequestTimeout())
		ms := r.millis(start)
		if err != nil {
			callErr := asCallError(err)
			if callErr.Fatal() {
				res := r.failResult(srv, callErr.Reason(), rssKB)
				return &res, false
			}
			raw = errorResponse(callErr.Detail)
		}
		samples = append(samples, sample{ms: ms, response: raw})
		return nil, true
	}

	if res, ok := call(baseCursor); !ok {
		return *res
	}
	for _, step := range override.Open {
		stepPath := filepath.Join(r.projectAbs, step.File)
		stepURI, err := sess.OpenFile(ctx, stepPath, mapper.LanguageID(r.cfg.Language, stepPath))
		if err != nil {
			return r.failResult(srv, fmt.Sprintf("open: %v", err), rssKB)
		}
		if _, err := sess.WaitForDiagnostics(ctx, stepURI, r.cfg.IndexTimeout()); err != nil {
			return r.failResult(srv, "wait_for_diagnostics: "+reasonOf(err), rssKB)
		}
		cursor := baseCursor
		if step.Line != nil {
			cursor.Line = *step.Line
		}
		if step.Col != nil {
			cursor.Col = *step.Col
		}
		if res, ok := call(cursor); !ok {
			return *res
		}
	}
	return r.assemble(srv, samples, rssKB)
}

// openPrimary is the shared prologue of the single-session variants:
// spawn, handshake, open the primary file and wait out indexing. On
// failure the session is torn down and a fail record returned.
func (r *runner) openPrimary(ctx context.Context, srv entity.ServerConfig) (*session.Session, uri.URI, int64, *entity.Result) {
	sess, err := r.sessions.Spawn(r.spec(srv))
	if err != nil {
		res := r.failResult(srv, err.Error(), 0)
		return nil, "", 0, &res
	}
	if err := sess.Initialize(ctx, r.rootURI, r.cfg.RequestTimeout()); err != nil {
		rss := sess.RSS()
		sess.Close()
		res := r.failResult(srv, err.Error(), rss)
		return nil, "", 0, &res
	}
	docURI, err := sess.OpenFile(ctx, r.fileAbs, r.language)
	if err != nil {
		rss := sess.RSS()
		sess.Close()
		res := r.failResult(srv, fmt.Sprintf("open: %v", err), rss)
		return nil, "", 0, &res
	}
	if _, err := sess.WaitForDiagnostics(ctx, docURI, r.cfg.IndexTimeout()); err != nil {
		rss := sess.RSS()
		sess.Close()
		res := r.failResult(srv, "wait_for_diagnostics: "+reasonOf(err), rss)
		return nil, "", 0, &res
	}
	return sess, docURI, sess.RSS(), nil
}

// assemble classifies the measured samples into one result record.
func (r *runner) assemble(srv entity.ServerConfig, samples []sample, rssKB int64) entity.Result {
	if len(samples) == 0 {
		return r.failResult(srv, "no iterations", rssKB)
	}
	limit := r.cfg.Response.Cap()

	firstAccepted := -1
	allAccepted := true
	for i, s := range samples {
		if accepted(s.response) {
			if firstAccepted < 0 {
				firstAccepted = i
			}
		} else {
			allAccepted = false
		}
	}

	if !allAccepted {
		canonical := samples[0].response
		if firstAccepted >= 0 {
			canonical = samples[firstAccepted].response
		}
		return entity.Result{
			Server:       srv.Label,
			Status:       entity.StatusInvalid,
			RSSKilobytes: rssKB,
			Response:     capResponse(canonical, limit),
		}
	}

	canonical := samples[0].response
	elapsed := make([]float64, 0, len(samples))
	iterations := make([]entity.Iteration, 0, len(samples))
	for _, s := range samples {
		elapsed = append(elapsed, s.ms)
		it := entity.Iteration{Millis: s.ms}
		if !equalJSON(s.response, canonical) {
			it.Response = capResponse(s.response, limit)
		}
		iterations = append(iterations, it)
	}
	stats := computeStats(elapsed)

	return entity.Result{
		Server:       srv.Label,
		Status:       entity.StatusOK,
		Stats:        &stats,
		RSSKilobytes: rssKB,
		Response:     capResponse(canonical, limit),
		Iterations:   iterations,
	}
}

func (r *runner) failResult(srv entity.ServerConfig, reason string, rssKB int64) entity.Result {
	r.logger.Warnw("benchmark failed", "server", srv.Label, "reason", reason)
	return entity.Result{
		Server:       srv.Label,
		Status:       entity.StatusFail,
		Reason:       reason,
		RSSKilobytes: rssKB,
	}
}

func (r *runner) spec(srv entity.ServerConfig) session.Spec {
	return session.Spec{Cmd: srv.Cmd, Args: srv.Args, Dir: r.projectAbs}
}

func (r *runner) millis(start time.Time) float64 {
	return float64(r.clk.Since(start)) / float64(time.Millisecond)
}

func asCallError(err error) *session.CallError {
	var callErr *session.CallError
	if errors.As(err, &callErr) {
		return callErr
	}
	return &session.CallError{Kind: session.KindProtocol, Detail: err.Error()}
}

func reasonOf(err error) string {
	return asCallError(err).Reason()
}
