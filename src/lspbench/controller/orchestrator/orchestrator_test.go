package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/lspbench/lspbench/src/lspbench/controller/verify"
	"github.com/lspbench/lspbench/src/lspbench/entity"
	"github.com/lspbench/lspbench/src/lspbench/internal/clock"
	"github.com/lspbench/lspbench/src/lspbench/internal/executor"
	"github.com/lspbench/lspbench/src/lspbench/internal/fs"
	"github.com/lspbench/lspbench/src/lspbench/mapper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"go.uber.org/zap"
)

func intPtr(v int) *int          { return &v }
func uint32Ptr(v uint32) *uint32 { return &v }

// fakeRunner records pairs and returns canned results keyed by method.
type fakeRunner struct {
	results map[string]entity.Result
	calls   []string
}

func (f *fakeRunner) Run(ctx context.Context, srv entity.ServerConfig, method entity.MethodInfo) entity.Result {
	f.calls = append(f.calls, srv.Label+" "+method.Name)
	if res, ok := f.results[method.Name]; ok {
		res.Server = srv.Label
		return res
	}
	stats := entity.LatencyStats{Mean: 2, P50: 2, P95: 2, Min: 2, Max: 2}
	return entity.Result{
		Server:     srv.Label,
		Status:     entity.StatusOK,
		Stats:      &stats,
		Response:   json.RawMessage(`{"contents":"doc"}`),
		Iterations: []entity.Iteration{{Millis: 2}},
	}
}

func testExecutor() executor.Executor {
	return executor.NewExecutor(executor.WithExecFunc(func(cmd *exec.Cmd) error {
		fmt.Fprintln(cmd.Stdout, "fake-ls 1.2.3")
		return nil
	}))
}

func testConfig(t *testing.T) *entity.Config {
	t.Helper()
	project := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(project, "Pool.sol"), []byte("contract Pool {}\n"), 0644))
	return &entity.Config{
		Project:          project,
		File:             "Pool.sol",
		Line:             uint32Ptr(10),
		Col:              uint32Ptr(2),
		Iterations:       intPtr(2),
		Warmup:           intPtr(0),
		TimeoutSecs:      5,
		IndexTimeoutSecs: 5,
		Output:           t.TempDir(),
		Response:         entity.DefaultResponseLimit,
		Benchmarks:       []string{"initialize", "textDocument/hover"},
		Servers: []entity.ServerConfig{
			{Label: "present", Cmd: "sh"},
			{Label: "ghost", Cmd: "definitely-not-a-real-binary-anywhere"},
		},
	}
}

func newOrchestrator(t *testing.T, cfg *entity.Config, runner *fakeRunner, opts Options) Orchestrator {
	t.Helper()
	logger := zap.NewNop().Sugar()
	return New(Params{
		Logger:   logger,
		Config:   cfg,
		Runner:   runner,
		Verifier: verify.New(verify.Params{Logger: logger}),
		FS:       fs.New(),
		Executor: testExecutor(),
		Stats:    tally.NewTestScope("testing", map[string]string{}),
		Clock:    clock.New(),
		Options:  opts,
	})
}

func readArtifact(t *testing.T, dir string) mapper.Artifact {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var artifact mapper.Artifact
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &artifact))
		return artifact
	}
	t.Fatal("no artifact written")
	return artifact
}

func TestRunMatrix(t *testing.T) {
	cfg := testConfig(t)
	runner := &fakeRunner{}
	o := newOrchestrator(t, cfg, runner, Options{})

	code, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExitOK, code)

	// Only the available server is driven, method-major and in order.
	assert.Equal(t, []string{"present initialize", "present textDocument/hover"}, runner.calls)

	artifact := readArtifact(t, cfg.Output)
	require.Len(t, artifact.Benchmarks, 2)
	assert.Equal(t, "initialize", artifact.Benchmarks[0].Name)
	assert.Empty(t, artifact.Benchmarks[0].Input)
	assert.NotEmpty(t, artifact.Benchmarks[1].Input)

	// Both servers appear per method: the missing one as a spawn failure.
	require.Len(t, artifact.Benchmarks[0].Servers, 2)
	assert.Equal(t, "ok", artifact.Benchmarks[0].Servers[0].Status)
	assert.Equal(t, "fail", artifact.Benchmarks[0].Servers[1].Status)
	assert.Equal(t, "spawn: not found", artifact.Benchmarks[0].Servers[1].Error)

	// Version detection only covers available servers.
	require.Len(t, artifact.Servers, 1)
	assert.Equal(t, "present", artifact.Servers[0].Name)
	assert.Equal(t, "fake-ls 1.2.3", artifact.Servers[0].Version)

	// The partial staging tree is gone after the final write.
	_, err = os.Stat(filepath.Join(cfg.Output, "partial"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunUnknownBenchmarkIsConfigError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Benchmarks = []string{"textDocument/unheardOf"}
	o := newOrchestrator(t, cfg, &fakeRunner{}, Options{})

	code, err := o.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, ExitConfigError, code)
}

func TestRunMissingProjectIsConfigError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Project = filepath.Join(cfg.Project, "nope")
	o := newOrchestrator(t, cfg, &fakeRunner{}, Options{})

	code, err := o.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, ExitConfigError, code)
}

func TestRunMissingFileFailsEveryPairWithoutSpawning(t *testing.T) {
	cfg := testConfig(t)
	cfg.File = "Missing.sol"
	runner := &fakeRunner{}
	o := newOrchestrator(t, cfg, runner, Options{})

	code, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExitOK, code)
	assert.Empty(t, runner.calls)

	artifact := readArtifact(t, cfg.Output)
	for _, b := range artifact.Benchmarks {
		for _, s := range b.Servers {
			assert.Equal(t, "fail", s.Status)
		}
	}
	assert.Contains(t, artifact.Benchmarks[0].Servers[0].Error, "open:")
}

func TestRunVerifyMismatchExitsNonZero(t *testing.T) {
	cfg := testConfig(t)
	cfg.Benchmarks = []string{"textDocument/definition"}
	line := uint32(39)
	cfg.Methods = map[string]entity.MethodConfig{
		"textDocument/definition": {Expect: &entity.Expect{File: "SafeCast.sol", Line: &line}},
	}
	runner := &fakeRunner{results: map[string]entity.Result{
		"textDocument/definition": {
			Status:     entity.StatusOK,
			Stats:      &entity.LatencyStats{Mean: 1, P50: 1, P95: 1, Min: 1, Max: 1},
			Response:   json.RawMessage(`[{"uri":"file:///proj/Other.sol","range":{"start":{"line":4,"character":0}}}]`),
			Iterations: []entity.Iteration{{Millis: 1}},
		},
	}}
	o := newOrchestrator(t, cfg, runner, Options{Verify: true})

	code, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExitVerifyFail, code)
}
