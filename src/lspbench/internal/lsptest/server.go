// Package lsptest implements a scriptable LSP server speaking framed
// JSON-RPC over stdio. Tests re-exec the test binary into Serve via the
// helper-process pattern, so session and runner code is exercised against a
// real child process and a real pipe.
package lsptest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.lsp.dev/jsonrpc2"
)

// EnvBehavior carries the JSON-encoded Behavior into the child process.
const EnvBehavior = "LSPTEST_BEHAVIOR"

// Behavior scripts the fake server.
type Behavior struct {
	// NoInitializeReply leaves the initialize request unanswered.
	NoInitializeReply bool `json:"noInitializeReply,omitempty"`
	// InitializeDelayMs delays the initialize response.
	InitializeDelayMs int `json:"initializeDelayMs,omitempty"`
	// PublishDiagnostics publishes one diagnostics wave after each didOpen.
	PublishDiagnostics bool `json:"publishDiagnostics,omitempty"`
	// DiagnosticsDelayMs delays the wave after the didOpen.
	DiagnosticsDelayMs int `json:"diagnosticsDelayMs,omitempty"`
	// Results maps method names to canned result payloads.
	Results map[string]json.RawMessage `json:"results,omitempty"`
	// Errors maps method names to "method not found" error messages.
	Errors map[string]string `json:"errors,omitempty"`
	// DefaultResult answers any other request; empty means null.
	DefaultResult json.RawMessage `json:"defaultResult,omitempty"`
	// FailAfter makes every request after the first N time out by staying
	// unanswered. Zero disables.
	FailAfter int `json:"failAfter,omitempty"`
	// DieAfter exits the process after the first N answered requests.
	// Zero disables.
	DieAfter int `json:"dieAfter,omitempty"`
}

type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdio) Close() error                { return nil }

// Serve reads the behavior from the environment and speaks LSP on stdio
// until the client disconnects or sends exit.
func Serve() error {
	var behavior Behavior
	if raw := os.Getenv(EnvBehavior); raw != "" {
		if err := json.Unmarshal([]byte(raw), &behavior); err != nil {
			return fmt.Errorf("parsing %s: %w", EnvBehavior, err)
		}
	}
	s := &server{behavior: behavior, stream: jsonrpc2.NewStream(stdio{})}
	return s.run()
}

type server struct {
	behavior Behavior
	stream   jsonrpc2.Stream

	writeMu  sync.Mutex
	answered int
}

func (s *server) run() error {
	ctx := context.Background()
	for {
		msg, _, err := s.stream.Read(ctx)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		switch m := msg.(type) {
		case *jsonrpc2.Call:
			s.handleCall(ctx, m)
		case *jsonrpc2.Notification:
			s.handleNotification(ctx, m)
		}
	}
}

func (s *server) handleCall(ctx context.Context, call *jsonrpc2.Call) {
	if s.behavior.FailAfter > 0 && s.answered >= s.behavior.FailAfter {
		return // hang: never answer
	}

	switch call.Method() {
	case "initialize":
		if s.behavior.NoInitializeReply {
			return
		}
		if s.behavior.InitializeDelayMs > 0 {
			time.Sleep(time.Duration(s.behavior.InitializeDelayMs) * time.Millisecond)
		}
		s.reply(ctx, call, json.RawMessage(`{"capabilities":{}}`), nil)
	case "shutdown":
		s.reply(ctx, call, nil, nil)
	default:
		if message, ok := s.behavior.Errors[call.Method()]; ok {
			s.reply(ctx, call, nil, jsonrpc2.NewError(jsonrpc2.MethodNotFound, message))
			return
		}
		if result, ok := s.behavior.Results[call.Method()]; ok {
			s.reply(ctx, call, result, nil)
			return
		}
		if len(s.behavior.DefaultResult) > 0 {
			s.reply(ctx, call, s.behavior.DefaultResult, nil)
			return
		}
		s.reply(ctx, call, nil, nil)
	}
}

func (s *server) handleNotification(ctx context.Context, note *jsonrpc2.Notification) {
	switch note.Method() {
	case "exit":
		os.Exit(0)
	case "textDocument/didOpen":
		if !s.behavior.PublishDiagnostics {
			return
		}
		var params struct {
			TextDocument struct {
				URI string `json:"uri"`
			} `json:"textDocument"`
		}
		if err := json.Unmarshal(note.Params(), &params); err != nil {
			return
		}
		delay := time.Duration(s.behavior.DiagnosticsDelayMs) * time.Millisecond
		go func() {
			time.Sleep(delay)
			s.publishDiagnostics(ctx, params.TextDocument.URI)
		}()
	}
}

func (s *server) publishDiagnostics(ctx context.Context, docURI string) {
	params := map[string]interface{}{
		"uri": docURI,
		"diagnostics": []map[string]interface{}{
			{
				"range": map[string]interface{}{
					"start": map[string]interface{}{"line": 0, "character": 0},
					"end":   map[string]interface{}{"line": 0, "character": 1},
				},
				"severity": 2,
				"message":  "unused variable",
			},
		},
	}
	note, err := jsonrpc2.NewNotification("textDocument/publishDiagnostics", params)
	if err != nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.stream.Write(ctx, note)
}

func (s *server) reply(ctx context.Context, call *jsonrpc2.Call, result interface{}, rpcErr error) {
	resp, err := jsonrpc2.NewResponse(call.ID(), result, rpcErr)
	if err != nil {
		return
	}
	s.writeMu.Lock()
	s.stream.Write(ctx, resp)
	s.answered++
	die := s.behavior.DieAfter > 0 && s.answered >= s.behavior.DieAfter
	s.writeMu.Unlock()
	if die {
		// Give the client a moment to flush its next writes so the death
		// surfaces as EOF on a pending call rather than a broken pipe on a
		// notification.
		time.Sleep(100 * time.Millisecond)
		os.Exit(1)
	}
}
