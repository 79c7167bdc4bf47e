// Package router demultiplexes the inbound side of one LSP session: it
// routes responses to the waiter registered for their id, answers
// server-originated requests, and buffers notifications by method name.
package router

import (
	"context"
	"encoding/json"
	"sync"

	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"
)

// Source is the framed message stream the router reads from and answers
// server requests on.
type Source interface {
	Read(ctx context.Context) (jsonrpc2.Message, error)
	Write(ctx context.Context, msg jsonrpc2.Message) error
}

// Router runs a dedicated reader over one transport. It never imposes
// deadlines of its own; callers bound Await and TakeNext via context.
type Router struct {
	tr     Source
	logger *zap.SugaredLogger

	mu      sync.Mutex
	pending map[jsonrpc2.ID]chan *jsonrpc2.Response
	notes   map[string][]json.RawMessage
	pulse   chan struct{}

	done    chan struct{}
	readErr error
}

// New creates a router over the transport. Call Run on its own goroutine.
func New(tr Source, logger *zap.SugaredLogger) *Router {
	return &Router{
		tr:      tr,
		logger:  logger,
		pending: make(map[jsonrpc2.ID]chan *jsonrpc2.Response),
		notes:   make(map[string][]json.RawMessage),
		pulse:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Run pulls frames until the transport fails, classifying each one. The
// terminal read error is retained and surfaced to all waiters.
func (r *Router) Run() {
	ctx := context.Background()
	for {
		msg, err := r.tr.Read(ctx)
		if err != nil {
			r.mu.Lock()
			r.readErr = err
			r.mu.Unlock()
			close(r.done)
			return
		}
		switch m := msg.(type) {
		case *jsonrpc2.Response:
			r.deliver(m)
		case *jsonrpc2.Call:
			// Server-to-client request (workspace/configuration,
			// client/registerCapability, ...). Answer null right away;
			// these are never measured.
			r.replyNull(ctx, m)
		case *jsonrpc2.Notification:
			r.buffer(m)
		}
	}
}

func (r *Router) deliver(resp *jsonrpc2.Response) {
	r.mu.Lock()
	ch, ok := r.pending[resp.ID()]
	if ok {
		delete(r.pending, resp.ID())
	}
	r.mu.Unlock()

	if !ok {
		// Late response after a deadline removed the waiter. Ids are never
		// reused within a session, so dropping is safe.
		r.logger.Debugw("dropping unmatched response", "id", resp.ID())
		return
	}
	ch <- resp
}

func (r *Router) replyNull(ctx context.Context, call *jsonrpc2.Call) {
	resp, err := jsonrpc2.NewResponse(call.ID(), nil, nil)
	if err != nil {
		r.logger.Debugw("building null reply", "method", call.Method(), "error", err)
		return
	}
	if err := r.tr.Write(ctx, resp); err != nil {
		r.logger.Debugw("answering server request", "method", call.Method(), "error", err)
	}
}

func (r *Router) buffer(note *jsonrpc2.Notification) {
	r.mu.Lock()
	r.notes[note.Method()] = append(r.notes[note.Method()], note.Params())
	close(r.pulse)
	r.pulse = make(chan struct{})
	r.mu.Unlock()
}

// Register creates the waiter slot for a request id. It must be called
// before the request is written so a fast response cannot race the waiter.
func (r *Router) Register(id jsonrpc2.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[id] = make(chan *jsonrpc2.Response, 1)
}

// Cancel removes the waiter slot for a request id, if still present.
func (r *Router) Cancel(id jsonrpc2.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, id)
}

// Await blocks until the response for id arrives, the context expires, or
// the reader terminates. On context expiry the waiter is removed; a late
// response will be dropped by the reader.
func (r *Router) Await(ctx context.Context, id jsonrpc2.ID) (*jsonrpc2.Response, error) {
	r.mu.Lock()
	ch, ok := r.pending[id]
	r.mu.Unlock()
	if !ok {
		r.mu.Lock()
		err := r.readErr
		r.mu.Unlock()
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		r.Cancel(id)
		// The response may have been delivered while we were cancelling.
		select {
		case resp := <-ch:
			return resp, nil
		default:
		}
		return nil, ctx.Err()
	case <-r.done:
		r.Cancel(id)
		select {
		case resp := <-ch:
			return resp, nil
		default:
		}
		return nil, r.Err()
	}
}

// TakeNext returns the next buffered notification for method, waiting for
// one to arrive until the context expires or the reader terminates.
func (r *Router) TakeNext(ctx context.Context, method string) (json.RawMessage, error) {
	for {
		r.mu.Lock()
		if buf := r.notes[method]; len(buf) > 0 {
			next := buf[0]
			r.notes[method] = buf[1:]
			r.mu.Unlock()
			return next, nil
		}
		pulse := r.pulse
		r.mu.Unlock()

		select {
		case <-pulse:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.done:
			// Drain anything buffered between the check and the shutdown.
			r.mu.Lock()
			if buf := r.notes[method]; len(buf) > 0 {
				next := buf[0]
				r.notes[method] = buf[1:]
				r.mu.Unlock()
				return next, nil
			}
			r.mu.Unlock()
			return nil, r.Err()
		}
	}
}

// Done is closed when the reader has terminated.
func (r *Router) Done() <-chan struct{} {
	return r.done
}

// Err returns the terminal read error once the reader has stopped.
func (r *Router) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readErr
}
