package vm

import (
	"strings"
	"sync"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Tracing
// ---------------------------------------------------------------------------

// Tracer observes a VM. Implementations receive fiber lifecycle events
// and hand out per-fiber tracers for events happening inside a fiber.
//
// Values passed to tracer callbacks are borrowed together with their
// owning heap; a tracer must extract what it needs (render, clone)
// before returning and must not retain the values.
type Tracer interface {
	FiberCreated(fiber FiberID)
	FiberDone(fiber FiberID)
	// FiberPanicked reports a panicked fiber. When the panic was
	// caused by a panicked child (a parallel scope collapsing), child
	// names it; otherwise child is NoFiber.
	FiberPanicked(fiber, child FiberID)
	FiberCanceled(fiber FiberID)
	FiberExecutionStarted(fiber FiberID)
	FiberExecutionEnded(fiber FiberID)
	ChannelCreated(channel ChannelID)
	InFiber(fiber FiberID) FiberTracer
}

// FiberTracer observes events inside a single fiber.
type FiberTracer interface {
	ValueEvaluated(h *Heap, expression, value Value)
	FoundFuzzableFunction(h *Heap, definition, function Value)
	CallStarted(h *Heap, callSite, callee Value, arguments []Value, responsible Value)
	CallEnded(h *Heap, returnValue Value)
}

// ---------------------------------------------------------------------------
// NilTracer
// ---------------------------------------------------------------------------

// NilTracer discards every event.
type NilTracer struct{}

func (NilTracer) FiberCreated(FiberID)          {}
func (NilTracer) FiberDone(FiberID)             {}
func (NilTracer) FiberPanicked(FiberID, FiberID) {}
func (NilTracer) FiberCanceled(FiberID)         {}
func (NilTracer) FiberExecutionStarted(FiberID) {}
func (NilTracer) FiberExecutionEnded(FiberID)   {}
func (NilTracer) ChannelCreated(ChannelID)      {}
func (NilTracer) InFiber(FiberID) FiberTracer   { return nilFiberTracer{} }

type nilFiberTracer struct{}

func (nilFiberTracer) ValueEvaluated(*Heap, Value, Value)                  {}
func (nilFiberTracer) FoundFuzzableFunction(*Heap, Value, Value)           {}
func (nilFiberTracer) CallStarted(*Heap, Value, Value, []Value, Value)     {}
func (nilFiberTracer) CallEnded(*Heap, Value)                              {}

// ---------------------------------------------------------------------------
// CompoundTracer
// ---------------------------------------------------------------------------

// CompoundTracer fans every event out to several tracers. The VM never
// knows how many observers are attached.
type CompoundTracer struct {
	Tracers []Tracer
}

func (c *CompoundTracer) FiberCreated(fiber FiberID) {
	for _, t := range c.Tracers {
		t.FiberCreated(fiber)
	}
}

func (c *CompoundTracer) FiberDone(fiber FiberID) {
	for _, t := range c.Tracers {
		t.FiberDone(fiber)
	}
}

func (c *CompoundTracer) FiberPanicked(fiber, child FiberID) {
	for _, t := range c.Tracers {
		t.FiberPanicked(fiber, child)
	}
}

func (c *CompoundTracer) FiberCanceled(fiber FiberID) {
	for _, t := range c.Tracers {
		t.FiberCanceled(fiber)
	}
}

func (c *CompoundTracer) FiberExecutionStarted(fiber FiberID) {
	for _, t := range c.Tracers {
		t.FiberExecutionStarted(fiber)
	}
}

func (c *CompoundTracer) FiberExecutionEnded(fiber FiberID) {
	for _, t := range c.Tracers {
		t.FiberExecutionEnded(fiber)
	}
}

func (c *CompoundTracer) ChannelCreated(channel ChannelID) {
	for _, t := range c.Tracers {
		t.ChannelCreated(channel)
	}
}

func (c *CompoundTracer) InFiber(fiber FiberID) FiberTracer {
	inner := make([]FiberTracer, len(c.Tracers))
	for i, t := range c.Tracers {
		inner[i] = t.InFiber(fiber)
	}
	return &compoundFiberTracer{tracers: inner}
}

type compoundFiberTracer struct {
	tracers []FiberTracer
}

func (c *compoundFiberTracer) ValueEvaluated(h *Heap, expression, value Value) {
	for _, t := range c.tracers {
		t.ValueEvaluated(h, expression, value)
	}
}

func (c *compoundFiberTracer) FoundFuzzableFunction(h *Heap, definition, function Value) {
	for _, t := range c.tracers {
		t.FoundFuzzableFunction(h, definition, function)
	}
}

func (c *compoundFiberTracer) CallStarted(h *Heap, callSite, callee Value, arguments []Value, responsible Value) {
	for _, t := range c.tracers {
		t.CallStarted(h, callSite, callee, arguments, responsible)
	}
}

func (c *compoundFiberTracer) CallEnded(h *Heap, returnValue Value) {
	for _, t := range c.tracers {
		t.CallEnded(h, returnValue)
	}
}

// ---------------------------------------------------------------------------
// StackTracer
// ---------------------------------------------------------------------------

// StackFrame is one entry of a reconstructed call stack.
type StackFrame struct {
	CallSite Location
	Call     string
}

// StackTracer maintains a call stack per fiber so panic reports can
// show where execution was. Frames store rendered text, not values, so
// nothing outlives its heap.
type StackTracer struct {
	mu     sync.Mutex
	stacks map[FiberID][]StackFrame
}

// NewStackTracer creates an empty stack tracer.
func NewStackTracer() *StackTracer {
	return &StackTracer{stacks: make(map[FiberID][]StackFrame)}
}

// Stack returns a copy of the call stack of a fiber, innermost call
// last.
func (s *StackTracer) Stack(fiber FiberID) []StackFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	stack := s.stacks[fiber]
	out := make([]StackFrame, len(stack))
	copy(out, stack)
	return out
}

// FormatStack renders a fiber's stack for a panic report, innermost
// call first.
func (s *StackTracer) FormatStack(fiber FiberID) string {
	stack := s.Stack(fiber)
	var b strings.Builder
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteString(stack[i].CallSite.String())
		b.WriteString("  ")
		b.WriteString(stack[i].Call)
		if i > 0 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (s *StackTracer) FiberCreated(FiberID)          {}
func (s *StackTracer) FiberDone(FiberID)             {}
func (s *StackTracer) FiberPanicked(FiberID, FiberID) {}
func (s *StackTracer) FiberCanceled(FiberID)         {}
func (s *StackTracer) FiberExecutionStarted(FiberID) {}
func (s *StackTracer) FiberExecutionEnded(FiberID)   {}
func (s *StackTracer) ChannelCreated(ChannelID)      {}

func (s *StackTracer) InFiber(fiber FiberID) FiberTracer {
	return &stackFiberTracer{tracer: s, fiber: fiber}
}

type stackFiberTracer struct {
	tracer *StackTracer
	fiber  FiberID
}

func (s *stackFiberTracer) ValueEvaluated(*Heap, Value, Value)        {}
func (s *stackFiberTracer) FoundFuzzableFunction(*Heap, Value, Value) {}

func (s *stackFiberTracer) CallStarted(h *Heap, callSite, callee Value, arguments []Value, responsible Value) {
	var location Location
	if h.IsLocation(callSite) {
		location = h.LocationValue(callSite)
	}
	var call strings.Builder
	call.WriteString(ToDebugText(h, callee, 40))
	for _, arg := range arguments {
		call.WriteString(" ")
		call.WriteString(ToDebugText(h, arg, 20))
	}
	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	s.tracer.stacks[s.fiber] = append(s.tracer.stacks[s.fiber],
		StackFrame{CallSite: location, Call: call.String()})
}

func (s *stackFiberTracer) CallEnded(h *Heap, returnValue Value) {
	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	stack := s.tracer.stacks[s.fiber]
	if len(stack) > 0 {
		s.tracer.stacks[s.fiber] = stack[:len(stack)-1]
	}
}

// ---------------------------------------------------------------------------
// LogTracer
// ---------------------------------------------------------------------------

// LogTracer writes every event to a commonlog logger. Intended for the
// CLI's --trace flag.
type LogTracer struct {
	Log commonlog.Logger
}

// NewLogTracer creates a tracer logging to the "toffee.trace" scope.
func NewLogTracer() *LogTracer {
	return &LogTracer{Log: commonlog.GetLogger("toffee.trace")}
}

func (l *LogTracer) FiberCreated(fiber FiberID) {
	l.Log.Debugf("fiber %d created", fiber)
}

func (l *LogTracer) FiberDone(fiber FiberID) {
	l.Log.Debugf("fiber %d done", fiber)
}

func (l *LogTracer) FiberPanicked(fiber, child FiberID) {
	if child != NoFiber {
		l.Log.Debugf("fiber %d panicked because child %d panicked", fiber, child)
		return
	}
	l.Log.Debugf("fiber %d panicked", fiber)
}

func (l *LogTracer) FiberCanceled(fiber FiberID) {
	l.Log.Debugf("fiber %d canceled", fiber)
}

func (l *LogTracer) FiberExecutionStarted(fiber FiberID) {
	l.Log.Debugf("fiber %d execution started", fiber)
}

func (l *LogTracer) FiberExecutionEnded(fiber FiberID) {
	l.Log.Debugf("fiber %d execution ended", fiber)
}

func (l *LogTracer) ChannelCreated(channel ChannelID) {
	l.Log.Debugf("channel %d created", channel)
}

func (l *LogTracer) InFiber(fiber FiberID) FiberTracer {
	return &logFiberTracer{log: l.Log, fiber: fiber}
}

type logFiberTracer struct {
	log   commonlog.Logger
	fiber FiberID
}

func (l *logFiberTracer) ValueEvaluated(h *Heap, expression, value Value) {
	l.log.Debugf("fiber %d: %s evaluated to %s", l.fiber,
		ToDebugText(h, expression, 40), ToDebugText(h, value, 60))
}

func (l *logFiberTracer) FoundFuzzableFunction(h *Heap, definition, function Value) {
	l.log.Debugf("fiber %d: fuzzable function at %s", l.fiber,
		ToDebugText(h, definition, 40))
}

func (l *logFiberTracer) CallStarted(h *Heap, callSite, callee Value, arguments []Value, responsible Value) {
	l.log.Debugf("fiber %d: call %s at %s with %d arguments", l.fiber,
		ToDebugText(h, callee, 40), ToDebugText(h, callSite, 40), len(arguments))
}

func (l *logFiberTracer) CallEnded(h *Heap, returnValue Value) {
	l.log.Debugf("fiber %d: call returned %s", l.fiber,
		ToDebugText(h, returnValue, 60))
}
