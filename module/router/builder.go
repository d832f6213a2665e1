package router

import (
	"strconv"

	"PRelay/module/protocol"
)

// Builder collects registrations in order. It is not safe for concurrent use;
// build once at startup.
type Builder struct {
	r Router
}

func NewBuilder() *Builder {
	return &Builder{}
}

// On registers handler for messages accepted by pred.
func (b *Builder) On(pred Predicate, handler Handler) *Builder {
	return b.OnNamed("", pred, handler)
}

// OnNamed is On with a name used in fault reports.
func (b *Builder) OnNamed(name string, pred Predicate, handler Handler) *Builder {
	if pred == nil || handler == nil {
		panic("router: nil predicate or handler")
	}
	if name == "" {
		name = "#" + strconv.Itoa(len(b.r.entries))
	}
	b.r.entries = append(b.r.entries, entry{name: name, pred: pred, handler: handler})
	return b
}

func (b *Builder) OnUnknown(h UnknownHandler) *Builder {
	b.r.onUnknown = h
	return b
}

func (b *Builder) OnParseError(h ParseErrorHandler) *Builder {
	b.r.onParseError = h
	return b
}

func (b *Builder) OnHandlerError(cb HandlerErrorCallback) *Builder {
	b.r.onHandlerErr = cb
	return b
}

// Build returns a Router holding a copy of the registrations.
func (b *Builder) Build() *Router {
	r := b.r
	r.entries = append([]entry(nil), b.r.entries...)
	return &r
}

// HasTag matches object messages whose "type" equals tag.
func HasTag(tag string) Predicate {
	return func(in Incoming) bool { return in.Tag() == tag }
}

// OnServer registers a typed handler for server variant T. The element is
// decoded strictly with protocol.DecodeServer; a shape error is reported to
// the handler-error callback.
func OnServer[T protocol.ServerMessage](b *Builder, handler func(T) error) *Builder {
	var zero T
	tag := zero.Tag()
	return b.OnNamed(tag, HasTag(tag), func(in Incoming) error {
		m, err := protocol.DecodeServer(in.Raw)
		if err != nil {
			return err
		}
		return handler(m.(T))
	})
}

// OnClient is OnServer for client variants.
func OnClient[T protocol.ClientMessage](b *Builder, handler func(T) error) *Builder {
	var zero T
	tag := zero.Tag()
	return b.OnNamed(tag, HasTag(tag), func(in Incoming) error {
		m, err := protocol.DecodeClient(in.Raw)
		if err != nil {
			return err
		}
		return handler(m.(T))
	})
}
