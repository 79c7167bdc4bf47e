package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/lspbench/lspbench/src/lspbench/internal/fs"
	"github.com/lspbench/lspbench/src/lspbench/internal/lsptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/uri"
	"go.uber.org/zap"
)

const _helperEnv = "LSPBENCH_WANT_HELPER"

// TestHelperProcess is re-executed as the fake LSP server child.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(_helperEnv) != "1" {
		return
	}
	if err := lsptest.Serve(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(0)
}

type fixedSampler struct{ kb int64 }

func (f fixedSampler) Sample(pid int) int64 { return f.kb }

func helperSpec(t *testing.T, behavior lsptest.Behavior) Spec {
	t.Helper()
	raw, err := json.Marshal(behavior)
	require.NoError(t, err)
	t.Setenv(_helperEnv, "1")
	t.Setenv(lsptest.EnvBehavior, string(raw))

	exe, err := os.Executable()
	require.NoError(t, err)
	return Spec{Cmd: exe, Args: []string{"-test.run=TestHelperProcess", "--"}, Dir: t.TempDir()}
}

func newFactory() Factory {
	return NewFactory(Params{
		Logger:  zap.NewNop().Sugar(),
		Sampler: fixedSampler{kb: 4242},
		FS:      fs.New(),
	})
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestHandshakeAndCall(t *testing.T) {
	behavior := lsptest.Behavior{
		Results: map[string]json.RawMessage{
			"textDocument/hover": json.RawMessage(`{"contents":"a doc string"}`),
		},
	}
	sess, err := newFactory().Spawn(helperSpec(t, behavior))
	require.NoError(t, err)
	defer sess.Close()

	ctx := context.Background()
	require.NoError(t, sess.Initialize(ctx, uri.File(t.TempDir()), 5*time.Second))

	raw, err := sess.Call(ctx, "textDocument/hover", map[string]interface{}{}, 5*time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"contents":"a doc string"}`, string(raw))

	assert.Equal(t, int64(4242), sess.RSS())
	assert.NotZero(t, sess.PID())
}

func TestCallRPCError(t *testing.T) {
	behavior := lsptest.Behavior{
		Errors: map[string]string{
			"textDocument/declaration": "Unknown method textDocument/declaration",
		},
	}
	sess, err := newFactory().Spawn(helperSpec(t, behavior))
	require.NoError(t, err)
	defer sess.Close()

	ctx := context.Background()
	require.NoError(t, sess.Initialize(ctx, uri.File(t.TempDir()), 5*time.Second))

	_, err = sess.Call(ctx, "textDocument/declaration", map[string]interface{}{}, 5*time.Second)
	require.Error(t, err)
	callErr, ok := err.(*CallError)
	require.True(t, ok)
	assert.Equal(t, KindRPCError, callErr.Kind)
	assert.False(t, callErr.Fatal())
	assert.Equal(t, "error: Unknown method textDocument/declaration", callErr.Reason())
}

func TestCallTimeout(t *testing.T) {
	behavior := lsptest.Behavior{FailAfter: 1} // answer initialize, then hang
	sess, err := newFactory().Spawn(helperSpec(t, behavior))
	require.NoError(t, err)
	defer sess.Close()

	ctx := context.Background()
	require.NoError(t, sess.Initialize(ctx, uri.File(t.TempDir()), 5*time.Second))

	_, err = sess.Call(ctx, "textDocument/hover", map[string]interface{}{}, 100*time.Millisecond)
	require.Error(t, err)
	callErr, ok := err.(*CallError)
	require.True(t, ok)
	assert.Equal(t, KindTimeout, callErr.Kind)
	assert.True(t, callErr.Fatal())
	assert.Equal(t, "timeout", callErr.Reason())
}

func TestInitializeTimeout(t *testing.T) {
	behavior := lsptest.Behavior{NoInitializeReply: true}
	sess, err := newFactory().Spawn(helperSpec(t, behavior))
	require.NoError(t, err)
	defer sess.Close()

	err = sess.Initialize(context.Background(), uri.File(t.TempDir()), 100*time.Millisecond)
	require.Error(t, err)
	var handshakeErr *HandshakeError
	require.ErrorAs(t, err, &handshakeErr)
	assert.Contains(t, err.Error(), "initialize:")
}

func TestSpawnFailure(t *testing.T) {
	_, err := newFactory().Spawn(Spec{Cmd: "definitely-not-a-real-binary-anywhere", Dir: t.TempDir()})
	require.Error(t, err)
	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.Contains(t, err.Error(), "spawn:")
}

func TestDocumentVersions(t *testing.T) {
	behavior := lsptest.Behavior{PublishDiagnostics: true, DiagnosticsDelayMs: 20}
	sess, err := newFactory().Spawn(helperSpec(t, behavior))
	require.NoError(t, err)
	defer sess.Close()

	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, sess.Initialize(ctx, uri.File(dir), 5*time.Second))

	path := writeFile(t, dir, "Pool.sol", "contract Pool {}\n")
	docURI, err := sess.OpenFile(ctx, path, "solidity")
	require.NoError(t, err)
	assert.Equal(t, uri.File(path), docURI)

	raw, err := sess.WaitForDiagnostics(ctx, docURI, 5*time.Second)
	require.NoError(t, err)
	var params struct {
		URI         string            `json:"uri"`
		Diagnostics []json.RawMessage `json:"diagnostics"`
	}
	require.NoError(t, json.Unmarshal(raw, &params))
	assert.Equal(t, string(docURI), params.URI)
	assert.NotEmpty(t, params.Diagnostics)

	require.NoError(t, sess.ChangeFile(ctx, docURI, "contract Pool { uint256 x; }\n"))
	require.NoError(t, sess.CloseFile(ctx, docURI))
	assert.Error(t, sess.ChangeFile(ctx, docURI, "gone"))
}

func TestWaitForDiagnosticsTimeout(t *testing.T) {
	behavior := lsptest.Behavior{PublishDiagnostics: false}
	sess, err := newFactory().Spawn(helperSpec(t, behavior))
	require.NoError(t, err)
	defer sess.Close()

	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, sess.Initialize(ctx, uri.File(dir), 5*time.Second))

	path := writeFile(t, dir, "Pool.sol", "contract Pool {}\n")
	docURI, err := sess.OpenFile(ctx, path, "solidity")
	require.NoError(t, err)

	_, err = sess.WaitForDiagnostics(ctx, docURI, 100*time.Millisecond)
	require.Error(t, err)
	callErr, ok := err.(*CallError)
	require.True(t, ok)
	assert.Equal(t, "timeout", callErr.Reason())
}

func TestEOFMidCall(t *testing.T) {
	behavior := lsptest.Behavior{DieAfter: 1} // exit right after initialize
	sess, err := newFactory().Spawn(helperSpec(t, behavior))
	require.NoError(t, err)
	defer sess.Close()

	ctx := context.Background()
	require.NoError(t, sess.Initialize(ctx, uri.File(t.TempDir()), 5*time.Second))

	_, err = sess.Call(ctx, "textDocument/hover", map[string]interface{}{}, 5*time.Second)
	require.Error(t, err)
	callErr, ok := err.(*CallError)
	require.True(t, ok)
	assert.Equal(t, KindEOF, callErr.Kind)
	assert.Equal(t, "EOF", callErr.Reason())
}

func TestTeardownLeavesNoChild(t *testing.T) {
	behavior := lsptest.Behavior{}
	sess, err := newFactory().Spawn(helperSpec(t, behavior))
	require.NoError(t, err)
	require.NoError(t, sess.Initialize(context.Background(), uri.File(t.TempDir()), 5*time.Second))

	pid := sess.PID()
	sess.Close()

	// After teardown the child must not be running. Signal 0 probes for
	// existence without side effects.
	proc, err := os.FindProcess(pid)
	require.NoError(t, err)
	assert.Error(t, proc.Signal(syscall.Signal(0)))
}
