// Package router dispatches raw inbound frames to caller-supplied handlers.
//
// A Router is an ordered list of (predicate, handler) pairs. For every
// message the predicates are scanned in registration order and the first one
// returning true wins; that order is the authoritative tie-break. Delivery
// envelopes ({"messages":[...]}) are unwrapped and each element is
// classified on its own.
package router

import (
	"encoding/json"

	"PRelay/module/protocol"
	"PRelay/tools/errs"
	"PRelay/tools/safe"
)

// Incoming is one classified candidate: the raw JSON and its generic
// decoded value (map[string]any for objects).
type Incoming struct {
	Raw   json.RawMessage
	Value any
}

// Tag returns the discriminator of an object message, or "" when the value
// is not an object or has no string "type" field.
func (in Incoming) Tag() string {
	obj, ok := in.Value.(map[string]any)
	if !ok {
		return ""
	}
	tag, _ := obj[protocol.TypeField].(string)
	return tag
}

type Predicate func(Incoming) bool

type Handler func(Incoming) error

// UnknownHandler receives well-formed messages that matched no predicate.
type UnknownHandler func(value any)

// ParseErrorHandler receives payloads that are not valid JSON.
type ParseErrorHandler func(raw []byte, err error)

// HandlerErrorCallback receives faults raised by a handler, either a
// returned error or a recovered panic, with the message being handled.
type HandlerErrorCallback func(err error, msg Incoming)

type entry struct {
	name    string
	pred    Predicate
	handler Handler
}

// Router is immutable once built and safe for concurrent use.
type Router struct {
	entries      []entry
	onUnknown    UnknownHandler
	onParseError ParseErrorHandler
	onHandlerErr HandlerErrorCallback
}

// Handle decodes raw and dispatches it. It reports whether at least one
// handler was selected. Handle never panics because of the payload or a
// handler.
func (r *Router) Handle(raw []byte) bool {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		if r.onParseError != nil {
			r.onParseError(raw, errs.ErrInvalidEncoding.WithCause(err, "frame is not valid JSON"))
		}
		return false
	}

	if items, ok := protocol.EnvelopeItems(raw); ok {
		handled := false
		for _, item := range items {
			var v any
			// each item was already parsed as part of raw
			_ = json.Unmarshal(item, &v)
			if r.dispatch(Incoming{Raw: item, Value: v}) {
				handled = true
			}
		}
		return handled
	}

	return r.dispatch(Incoming{Raw: json.RawMessage(raw), Value: value})
}

// HandleString is Handle for text frames.
func (r *Router) HandleString(s string) bool {
	return r.Handle([]byte(s))
}

func (r *Router) dispatch(msg Incoming) bool {
	for _, e := range r.entries {
		if !r.match(e, msg) {
			continue
		}
		if err := r.run(e, msg); err != nil && r.onHandlerErr != nil {
			r.onHandlerErr(err, msg)
		}
		return true
	}
	if r.onUnknown != nil {
		r.onUnknown(msg.Value)
	}
	return false
}

// match treats a panicking predicate as a non-match.
func (r *Router) match(e entry, msg Incoming) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			ok = false
		}
	}()
	return e.pred(msg)
}

func (r *Router) run(e entry, msg Incoming) error {
	err := safe.Call(func() error { return e.handler(msg) })
	if err != nil {
		return errs.WrapMsg(err, "handler failed", "handler", e.name)
	}
	return nil
}

// Len returns the number of registered handlers.
func (r *Router) Len() int { return len(r.entries) }
