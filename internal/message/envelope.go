package message

// AccessContext identifies why a caller is invoking an envelope's
// AccessHook, per spec.md §4.2/§4.9.
type AccessContext int

const (
	// ContextHandlerFound means a handler has been matched and is about
	// to be invoked; the envelope decides whether to let that happen.
	ContextHandlerFound AccessContext = iota
	// ContextTransformation means a message-limit transform action needs
	// to inspect the payload to build a substitute message.
	ContextTransformation
	// ContextInspection means a delivery filter is evaluating the payload,
	// or tracing wants to record a "not handled" event.
	ContextInspection
)

func (c AccessContext) String() string {
	switch c {
	case ContextHandlerFound:
		return "handler_found"
	case ContextTransformation:
		return "transformation"
	case ContextInspection:
		return "inspection"
	default:
		return "unknown"
	}
}

// Invoker is handed to AccessHook; the envelope calls Invoke at most once
// to expose the wrapped message. Not calling Invoke means "suppressed" —
// the caller must treat the delivery attempt as not-handled / hidden.
type Invoker interface {
	Invoke(inner Message)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(Message)

// Invoke calls the underlying function.
func (f InvokerFunc) Invoke(inner Message) { f(inner) }

// Envelope is a Message that wraps another Message. It exposes the wrapped
// message's type directly (routing always needs to know the real type),
// but gates actual exposure of the payload through AccessHook so that
// tracing, filters, and handler-found semantics observe every hop.
type Envelope struct {
	inner Message
	// hook customises AccessHook's decision; nil means "always invoke".
	hook func(ctx AccessContext, invoker Invoker)
}

// NewEnvelope wraps inner behind the default hook, which always invokes
// the caller's Invoker — i.e. a pass-through envelope useful as the base
// case for tracing and test fixtures. Use NewEnvelopeWithHook to customise
// suppression behaviour (transfer-to-state, tracing taps, etc).
func NewEnvelope(inner Message) *Envelope {
	return &Envelope{inner: inner}
}

// NewEnvelopeWithHook wraps inner with a caller-supplied AccessHook
// implementation. hook must be noexcept in spirit: it must not panic, and
// it must call invoker.Invoke at most once per call, per spec.md §4.2.
func NewEnvelopeWithHook(inner Message, hook func(ctx AccessContext, invoker Invoker)) *Envelope {
	return &Envelope{inner: inner, hook: hook}
}

// AccessHook implements the envelope protocol. The supplied invoker is
// called at most once; envelope implementations that compose (wrap
// another envelope) should delegate to the inner envelope's own
// AccessHook from inside their hook so every hop observes the call.
func (e *Envelope) AccessHook(ctx AccessContext, invoker Invoker) {
	if e == nil {
		return
	}
	if e.hook != nil {
		e.hook(ctx, invoker)
		return
	}
	invoker.Invoke(e.inner)
}

// Inner returns the directly wrapped message without going through
// AccessHook. Routing code (type lookup, upcaster chain walks) uses this;
// it is not a substitute for respecting AccessHook's suppression
// semantics when actually delivering a payload to a handler.
func (e *Envelope) Inner() Message { return e.inner }

// Type reports the wrapped message's type so subscription matching can
// route enveloped messages exactly like their unwrapped counterparts.
func (e *Envelope) Type() TypeID { return e.inner.Type() }

// Kind is always KindEnveloped for an Envelope.
func (e *Envelope) Kind() Kind { return KindEnveloped }

// Mutability delegates to the wrapped message, per spec.md §4.9.
func (e *Envelope) Mutability() Mutability { return e.inner.Mutability() }

// SetMutability propagates a mutability change down to the wrapped
// message, per spec.md §4.9.
func (e *Envelope) SetMutability(m Mutability) { e.inner.SetMutability(m) }

// Payload exposes the wrapped message's raw payload directly, bypassing
// AccessHook. It exists for callers that already hold the unwrapped
// message (e.g. after a successful Unwrap) and need the underlying value.
func (e *Envelope) Payload() any { return e.inner.Payload() }

// Upcasters delegates to the wrapped message's upcaster chain.
func (e *Envelope) Upcasters() *UpcasterChain { return e.inner.Upcasters() }

// AsEnvelope type-asserts msg to *Envelope, returning ok=false for any
// other Message implementation (including a nil msg).
func AsEnvelope(msg Message) (*Envelope, bool) {
	env, ok := msg.(*Envelope)
	return env, ok
}

// Unwrap recursively peels envelope layers via AccessHook(ContextInspection, ...)
// until a non-envelope payload is reached or an envelope suppresses
// exposure. exposed is false the moment any layer declines to invoke its
// invoker — per spec.md §4.4 this must be treated as "hidden by envelope"
// for filters and "no match" for subscriptions.
func Unwrap(msg Message) (payload Message, exposed bool) {
	env, ok := AsEnvelope(msg)
	if !ok {
		return msg, true
	}
	var (
		captured Message
		invoked  bool
	)
	env.AccessHook(ContextInspection, InvokerFunc(func(inner Message) {
		invoked = true
		captured = inner
	}))
	if !invoked {
		return nil, false
	}
	return Unwrap(captured)
}
