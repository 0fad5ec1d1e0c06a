// Package router implements the ProtocolRouter: an ordered set of protocol
// handlers, selected by prefix match against an inbound message.
package router

import (
	"strings"
	"sync"

	"github.com/myelnet/hopnode/session"
)

// Verdict is the result a Handler returns after processing one inbound
// message.
type Verdict int

const (
	// Keep tells the router to loop for more messages on this connection.
	Keep Verdict = 1
	// Release means the handler has taken ownership of the session; the
	// router must exit without closing it.
	Release Verdict = 0
	// Error is fatal: the router exits and the worker closes the
	// connection.
	Error Verdict = -1
)

// Handler processes one framed inbound message already attributed to its
// protocol.
type Handler interface {
	// HandleMessage is invoked with the whole inbound buffer, including the
	// protocol-id prefix and its trailing newline; the router does not
	// strip them, so a handler locates its own body.
	HandleMessage(sess *session.Context, body []byte) Verdict
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(sess *session.Context, body []byte) Verdict

// HandleMessage implements Handler.
func (f HandlerFunc) HandleMessage(sess *session.Context, body []byte) Verdict {
	return f(sess, body)
}

type registration struct {
	prefix  string
	handler Handler
}

// Router holds the registered protocol handlers and dispatches inbound
// frames to the first one whose prefix matches.
type Router struct {
	mu   sync.RWMutex
	regs []registration
}

// New returns an empty Router.
func New() *Router {
	return &Router{}
}

// Register adds a handler for protocolIDPrefix. Handlers are tried in
// registration order, so register more specific prefixes first.
func (r *Router) Register(protocolIDPrefix string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regs = append(r.regs, registration{prefix: protocolIDPrefix, handler: h})
}

// Protocols returns the registered prefixes in registration order, the set
// the Negotiator should offer during the multistream handshake.
func (r *Router) Protocols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.regs))
	for i, reg := range r.regs {
		out[i] = reg.prefix
	}
	return out
}

// Dispatch finds the first handler whose prefix matches buf and invokes it.
// An unmatched buffer yields Error.
func (r *Router) Dispatch(sess *session.Context, buf []byte) Verdict {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, reg := range r.regs {
		if strings.HasPrefix(string(buf), reg.prefix) {
			return reg.handler.HandleMessage(sess, buf)
		}
	}
	return Error
}
