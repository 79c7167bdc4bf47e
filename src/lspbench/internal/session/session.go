// Package session owns one spawned LSP server: handshake, document state,
// request/response correlation under deadlines, RSS sampling and teardown.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/uuid"
	"github.com/lspbench/lspbench/src/lspbench/internal/fs"
	"github.com/lspbench/lspbench/src/lspbench/internal/router"
	"github.com/lspbench/lspbench/src/lspbench/internal/rss"
	"github.com/lspbench/lspbench/src/lspbench/internal/transport"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	// _teardownStep bounds each best-effort shutdown/exit message.
	_teardownStep = 500 * time.Millisecond
	// _exitGrace is how long a child may take to exit after stdin closes.
	_exitGrace = 1 * time.Second
	// _readerJoin bounds waiting for the reader goroutine during teardown.
	_readerJoin = 2 * time.Second
)

// Module is the Fx module for this package.
var Module = fx.Provide(NewFactory)

// Spec describes the server process a session should own.
type Spec struct {
	Cmd  string
	Args []string
	Dir  string
}

// Factory spawns sessions. Runners create and destroy sessions freely; a
// session never outlives the result record it contributed to.
type Factory interface {
	Spawn(spec Spec) (*Session, error)
}

// Params define values to be used by the session factory.
type Params struct {
	fx.In

	Logger  *zap.SugaredLogger
	Sampler rss.Sampler
	FS      fs.BenchFS
}

type factory struct {
	logger  *zap.SugaredLogger
	sampler rss.Sampler
	fs      fs.BenchFS
}

// NewFactory creates a session factory.
func NewFactory(p Params) Factory {
	return &factory{logger: p.Logger, sampler: p.Sampler, fs: p.FS}
}

// Spawn launches the server and starts its reader. The handshake is a
// separate step so that callers can time it.
func (f *factory) Spawn(spec Spec) (*Session, error) {
	tr, err := transport.Spawn(spec.Cmd, spec.Args, spec.Dir)
	if err != nil {
		return nil, &SpawnError{Detail: err.Error()}
	}
	id := uuid.Must(uuid.NewV4())
	s := &Session{
		uuid:    id,
		tr:      tr,
		rt:      router.New(tr, f.logger.With("session", id.String())),
		logger:  f.logger.With("session", id.String()),
		sampler: f.sampler,
		fs:      f.fs,
		nextID:  1,
		docs:    make(map[uri.URI]int32),
	}
	go s.rt.Run()
	return s, nil
}

// Session is one live server under benchmark. It is not safe for concurrent
// callers; requests are issued strictly sequentially.
type Session struct {
	uuid    uuid.UUID
	tr      *transport.Transport
	rt      *router.Router
	logger  *zap.SugaredLogger
	sampler rss.Sampler
	fs      fs.BenchFS

	nextID int64
	docs   map[uri.URI]int32
}

// UUID identifies the session in logs.
func (s *Session) UUID() uuid.UUID { return s.uuid }

// PID returns the child's process id.
func (s *Session) PID() int { return s.tr.PID() }

// Stderr returns the retained tail of the child's stderr.
func (s *Session) Stderr() string { return s.tr.Stderr() }

// Initialize performs the initialize/initialized handshake against the
// given project root, bounded by the request deadline.
func (s *Session) Initialize(ctx context.Context, root uri.URI, deadline time.Duration) error {
	params := map[string]interface{}{
		"processId":    os.Getpid(),
		"rootUri":      root,
		"capabilities": clientCapabilities(),
	}
	if _, err := s.Call(ctx, protocol.MethodInitialize, params, deadline); err != nil {
		detail := err.Error()
		if stderr := s.tr.Stderr(); stderr != "" {
			detail = fmt.Sprintf("%s; stderr: %s", detail, stderr)
		}
		return &HandshakeError{Detail: detail}
	}
	if err := s.Notify(ctx, protocol.MethodInitialized, map[string]interface{}{}); err != nil {
		return &HandshakeError{Detail: err.Error()}
	}
	return nil
}

// Call sends one request and awaits its response, bounded by deadline.
// Outcomes other than a result payload surface as *CallError.
func (s *Session) Call(ctx context.Context, method string, params interface{}, deadline time.Duration) (json.RawMessage, error) {
	id := jsonrpc2.NewNumberID(int32(s.nextID))
	s.nextID++

	call, err := jsonrpc2.NewCall(id, method, params)
	if err != nil {
		return nil, &CallError{Kind: KindProtocol, Detail: err.Error()}
	}

	s.rt.Register(id)
	if err := s.tr.Write(ctx, call); err != nil {
		s.rt.Cancel(id)
		return nil, callErrorFrom(err)
	}

	cctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	resp, err := s.rt.Await(cctx, id)
	if err != nil {
		return nil, callErrorFrom(err)
	}
	if respErr := resp.Err(); respErr != nil {
		return nil, &CallError{Kind: KindRPCError, Detail: rpcMessage(respErr)}
	}
	return resp.Result(), nil
}

// Notify sends one notification; no response is expected.
func (s *Session) Notify(ctx context.Context, method string, params interface{}) error {
	note, err := jsonrpc2.NewNotification(method, params)
	if err != nil {
		return &CallError{Kind: KindProtocol, Detail: err.Error()}
	}
	if err := s.tr.Write(ctx, note); err != nil {
		return callErrorFrom(err)
	}
	return nil
}

// OpenFile reads path and opens it with the server at version 1, returning
// the document's URI.
func (s *Session) OpenFile(ctx context.Context, path string, languageID string) (uri.URI, error) {
	content, err := s.fs.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	docURI := uri.File(path)
	params := protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        docURI,
			LanguageID: protocol.LanguageIdentifier(languageID),
			Version:    1,
			Text:       string(content),
		},
	}
	if err := s.Notify(ctx, protocol.MethodTextDocumentDidOpen, params); err != nil {
		return "", err
	}
	s.docs[docURI] = 1
	return docURI, nil
}

// ChangeFile replaces the full content of an open document, bumping its
// version.
func (s *Session) ChangeFile(ctx context.Context, docURI uri.URI, text string) error {
	version, ok := s.docs[docURI]
	if !ok {
		return fmt.Errorf("document %q not open", docURI)
	}
	version++
	params := protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: docURI},
			Version:                version,
		},
		ContentChanges: []protocol.TextDocumentContentChangeEvent{
			{Text: text},
		},
	}
	if err := s.Notify(ctx, protocol.MethodTextDocumentDidChange, params); err != nil {
		return err
	}
	s.docs[docURI] = version
	return nil
}

// CloseFile closes an open document. Not required for correctness.
func (s *Session) CloseFile(ctx context.Context, docURI uri.URI) error {
	if _, ok := s.docs[docURI]; !ok {
		return nil
	}
	params := protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: docURI},
	}
	if err := s.Notify(ctx, protocol.MethodTextDocumentDidClose, params); err != nil {
		return err
	}
	delete(s.docs, docURI)
	return nil
}

// WaitForDiagnostics blocks until the server publishes diagnostics for the
// given document, bounded by deadline. The first matching wave wins; waves
// for other documents are discarded. Returns the notification params.
func (s *Session) WaitForDiagnostics(ctx context.Context, docURI uri.URI, deadline time.Duration) (json.RawMessage, error) {
	cctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	for {
		raw, err := s.rt.TakeNext(cctx, protocol.MethodTextDocumentPublishDiagnostics)
		if err != nil {
			return nil, callErrorFrom(err)
		}
		var params struct {
			URI uri.URI `json:"uri"`
		}
		if err := json.Unmarshal(raw, &params); err != nil {
			s.logger.Debugw("unparseable publishDiagnostics", "error", err)
			continue
		}
		if params.URI == docURI {
			return raw, nil
		}
	}
}

// RSS samples the child's resident set size in kilobytes, 0 when
// unmeasured.
func (s *Session) RSS() int64 {
	return s.sampler.Sample(s.tr.PID())
}

// Close tears the session down: best-effort shutdown and exit, polite EOF
// on stdin, then a forced kill once the grace window expires. The reader is
// joined with a bound so teardown can never hang.
func (s *Session) Close() error {
	ctx := context.Background()
	var errs error

	if _, err := s.Call(ctx, protocol.MethodShutdown, nil, _teardownStep); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := s.Notify(ctx, protocol.MethodExit, nil); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := s.tr.CloseStdin(); err != nil {
		errs = multierr.Append(errs, err)
	}
	s.tr.WaitExit(_exitGrace)
	// Reaps the child if the grace window expired and joins the stderr
	// drain; a no-op when the child already exited.
	s.tr.Kill()

	select {
	case <-s.rt.Done():
	case <-time.After(_readerJoin):
		errs = multierr.Append(errs, errors.New("reader did not stop within join window"))
	}
	return errs
}

func callErrorFrom(err error) *CallError {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &CallError{Kind: KindTimeout, Detail: "timeout"}
	case errors.Is(err, transport.ErrEOF):
		return &CallError{Kind: KindEOF, Detail: "EOF"}
	case errors.Is(err, transport.ErrProtocol):
		return &CallError{Kind: KindProtocol, Detail: err.Error()}
	default:
		return &CallError{Kind: KindProtocol, Detail: err.Error()}
	}
}

func rpcMessage(err error) string {
	var rpcErr *jsonrpc2.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Message
	}
	return err.Error()
}
