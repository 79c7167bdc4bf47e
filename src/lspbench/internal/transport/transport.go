// Package transport spawns an LSP server child process and frames JSON-RPC
// messages over its stdio with Content-Length headers.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.lsp.dev/jsonrpc2"
)

// ErrEOF indicates the child's stdout reached end-of-stream, possibly
// mid-frame.
var ErrEOF = errors.New("EOF")

// ErrProtocol indicates a malformed header or payload on the wire.
var ErrProtocol = errors.New("protocol error")

// Transport owns one spawned server process and its framed stdio stream.
// Writes are serialized; reads are expected from a single reader.
type Transport struct {
	cmd    *exec.Cmd
	stream jsonrpc2.Stream
	stdin  io.WriteCloser
	errs   *ring

	writeMu   sync.Mutex
	stdinOnce sync.Once
	waitOnce  sync.Once
	exited    chan struct{}
}

// stdioPipe joins the child's stdout (reads) and stdin (writes) into the
// single io.ReadWriteCloser the jsonrpc2 framer wants.
type stdioPipe struct {
	in  io.WriteCloser
	out io.ReadCloser
}

func (p stdioPipe) Read(b []byte) (int, error)  { return p.out.Read(b) }
func (p stdioPipe) Write(b []byte) (int, error) { return p.in.Write(b) }

func (p stdioPipe) Close() error {
	inErr := p.in.Close()
	if outErr := p.out.Close(); outErr != nil {
		return outErr
	}
	return inErr
}

// Spawn launches the server command in dir and attaches the framed stream.
// Commands given as explicit relative paths are resolved to absolute ones so
// that dir does not change their meaning.
func Spawn(command string, args []string, dir string) (*Transport, error) {
	if strings.HasPrefix(command, "./") || strings.HasPrefix(command, "../") {
		if abs, err := filepath.Abs(command); err == nil {
			command = abs
		}
	}

	cmd := exec.Command(command, args...)
	cmd.Dir = dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	// The ring absorbs stderr without bound, so the child can never block
	// on a full stderr pipe; exec's copier drains it until the pipe closes.
	errs := newRing(defaultRingSize)
	cmd.Stderr = errs
	// A grandchild may inherit the stderr pipe and outlive the child; once
	// the child has exited, Wait stops waiting on the pipes after this delay
	// so that WaitExit and Kill can reap it.
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%s: %w", command, err)
	}

	return &Transport{
		cmd:    cmd,
		stream: jsonrpc2.NewStream(stdioPipe{in: stdin, out: stdout}),
		stdin:  stdin,
		errs:   errs,
		exited: make(chan struct{}),
	}, nil
}

// PID returns the child's process id.
func (t *Transport) PID() int {
	if t.cmd.Process == nil {
		return 0
	}
	return t.cmd.Process.Pid
}

// Stderr returns the retained tail of the child's stderr.
func (t *Transport) Stderr() string {
	return t.errs.String()
}

// Read pulls the next framed message. End-of-stream conditions are reported
// as ErrEOF, everything else malformed as ErrProtocol.
func (t *Transport) Read(ctx context.Context) (jsonrpc2.Message, error) {
	msg, _, err := t.stream.Read(ctx)
	if err != nil {
		return nil, t.classify(ctx, err)
	}
	return msg, nil
}

// Write frames and sends one message.
func (t *Transport) Write(ctx context.Context, msg jsonrpc2.Message) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.stream.Write(ctx, msg); err != nil {
		return t.classify(ctx, err)
	}
	return nil
}

func (t *Transport) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, fs.ErrClosed) || errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrProcessDone) || isBrokenPipe(err) {
		return ErrEOF
	}
	return fmt.Errorf("%w: %v", ErrProtocol, err)
}

func isBrokenPipe(err error) bool {
	return err != nil && strings.Contains(err.Error(), "broken pipe")
}

// CloseStdin signals a polite EOF to the child. Safe to call repeatedly.
func (t *Transport) CloseStdin() error {
	var err error
	t.stdinOnce.Do(func() { err = t.stdin.Close() })
	return err
}

// WaitExit blocks until the child exits or the grace window elapses and
// reports whether it exited.
func (t *Transport) WaitExit(grace time.Duration) bool {
	t.waitOnce.Do(func() {
		go func() {
			defer close(t.exited)
			t.cmd.Wait()
		}()
	})
	select {
	case <-t.exited:
		return true
	case <-time.After(grace):
		return false
	}
}

// Kill force-terminates the child and reaps it.
func (t *Transport) Kill() {
	if t.cmd.Process != nil {
		t.cmd.Process.Kill()
	}
	t.WaitExit(5 * time.Second)
}
