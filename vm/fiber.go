package vm

import "fmt"

// ---------------------------------------------------------------------------
// Fiber: one cooperative interpreter instance
// ---------------------------------------------------------------------------

// FiberStatus is the state a fiber is in between execution slices.
type FiberStatus uint8

const (
	// FiberRunning fibers make progress when given instruction budget.
	FiberRunning FiberStatus = iota
	// The remaining non-terminal states park the fiber until the
	// scheduler performs the requested operation and calls the
	// matching Complete method.
	FiberCreatingChannel
	FiberSending
	FiberReceiving
	FiberInParallelScope
	FiberInTry
	// Terminal states.
	FiberDone
	FiberPanicked
)

func (s FiberStatus) String() string {
	switch s {
	case FiberRunning:
		return "running"
	case FiberCreatingChannel:
		return "creatingChannel"
	case FiberSending:
		return "sending"
	case FiberReceiving:
		return "receiving"
	case FiberInParallelScope:
		return "inParallelScope"
	case FiberInTry:
		return "inTry"
	case FiberDone:
		return "done"
	case FiberPanicked:
		return "panicked"
	default:
		panic("vm: unknown fiber status")
	}
}

// Fiber is an independent interpreter instance: its own heap, data
// stack, call stack, and instruction pointer. Fibers never share heap
// addresses; values enter and leave through packets.
type Fiber struct {
	program *Program
	heap    *Heap
	tracer  FiberTracer

	dataStack []Value
	callStack []int
	ip        int

	status FiberStatus

	// Set when a parking builtin was invoked in tail position. The
	// completion of the parked operation must return instead of
	// continuing at the instruction after the call.
	pendingTailReturn bool

	// Status payloads. Which fields are meaningful depends on status.
	pendingCapacity  int       // FiberCreatingChannel
	pendingChannel   ChannelID // FiberSending, FiberReceiving
	pendingPort      Value     // FiberSending, FiberReceiving (owned)
	pendingPacket    Packet    // FiberSending
	scopeBody        Value     // FiberInParallelScope, FiberInTry (owned)
	result           Packet    // FiberDone
	panicReason      string    // FiberPanicked
	panicResponsible Location  // FiberPanicked

	// Modules currently executing, innermost last. Used to detect
	// import cycles and to resolve relative use paths.
	importStack []string

	// printer receives the output of the print builtin.
	printer func(string)

	// useProvider resolves use-path imports. A nil provider makes
	// every import fail.
	useProvider UseProvider
}

// SetPrinter routes the print builtin's output. A nil printer
// discards it.
func (f *Fiber) SetPrinter(printer func(string)) { f.printer = printer }

// SetUseProvider installs the module resolver for use-path imports.
func (f *Fiber) SetUseProvider(provider UseProvider) { f.useProvider = provider }

// NewFiberForRange creates a fiber that will execute the given
// instruction range on an empty stack. The range must end in a return
// instruction.
func NewFiberForRange(program *Program, tracer FiberTracer, body CodeRange) *Fiber {
	f := newFiber(program, tracer)
	f.ip = body.Start
	return f
}

// NewFiberForModule creates a fiber executing the program's entry
// module body.
func NewFiberForModule(program *Program, tracer FiberTracer) *Fiber {
	f := NewFiberForRange(program, tracer, program.Entry)
	return f
}

// NewFiberRunningFunction creates a fiber that calls the packed
// function with the packed arguments. Used for spawned fibers: the
// function crosses heaps by cloning.
func NewFiberRunningFunction(program *Program, tracer FiberTracer, function Packet, arguments []Packet) *Fiber {
	f := newFiber(program, tracer)
	fn := function.UnpackInto(f.heap)
	args := make([]Value, len(arguments))
	for i, arg := range arguments {
		args[i] = arg.UnpackInto(f.heap)
	}
	responsible := f.heap.CreateLocation(Location{Module: "<spawn>"})
	// The initial call has nowhere to return to: entering it in tail
	// position leaves the call stack empty, so the body's return
	// finishes the fiber.
	f.startCall(fn, args, responsible, true)
	return f
}

func newFiber(program *Program, tracer FiberTracer) *Fiber {
	if tracer == nil {
		tracer = nilFiberTracer{}
	}
	return &Fiber{
		program: program,
		heap:    NewHeap(program.Symbols, program.Constants),
		tracer:  tracer,
		status:  FiberRunning,
	}
}

// Status returns the fiber's current state.
func (f *Fiber) Status() FiberStatus { return f.status }

// Heap returns the fiber's heap.
func (f *Fiber) Heap() *Heap { return f.heap }

// Result returns the packed result of a done fiber.
func (f *Fiber) Result() Packet {
	if f.status != FiberDone {
		panic("vm: Result called on a fiber that is not done")
	}
	return f.result
}

// PanicReason and PanicResponsible describe a panicked fiber.
func (f *Fiber) PanicReason() string { return f.panicReason }

// PanicResponsible returns the source location responsible for the panic.
func (f *Fiber) PanicResponsible() Location { return f.panicResponsible }

// ---------------------------------------------------------------------------
// Execution control
// ---------------------------------------------------------------------------

// ExecutionController bounds how long a fiber may run. Run returns as
// soon as ShouldContinue reports false, leaving the fiber resumable.
type ExecutionController interface {
	ShouldContinue() bool
	InstructionExecuted()
}

// CountingController runs a bounded number of instructions.
type CountingController struct {
	Budget   int
	Executed int
}

func (c *CountingController) ShouldContinue() bool { return c.Executed < c.Budget }

func (c *CountingController) InstructionExecuted() { c.Executed++ }

// UnlimitedController never yields; useful for tests and run-to-end
// execution of single fibers.
type UnlimitedController struct{}

func (UnlimitedController) ShouldContinue() bool { return true }

func (UnlimitedController) InstructionExecuted() {}

// Run executes instructions until the fiber leaves the running state
// or the controller's budget is exhausted.
func (f *Fiber) Run(controller ExecutionController) {
	if f.status != FiberRunning {
		panic("vm: Run called on a fiber that is not running")
	}
	for f.status == FiberRunning && controller.ShouldContinue() {
		instruction := f.program.Instructions[f.ip]
		f.ip++
		f.execute(instruction)
		controller.InstructionExecuted()
	}
}

// ---------------------------------------------------------------------------
// Data stack
// ---------------------------------------------------------------------------

func (f *Fiber) push(v Value) {
	f.dataStack = append(f.dataStack, v)
}

func (f *Fiber) pop() Value {
	v := f.dataStack[len(f.dataStack)-1]
	f.dataStack = f.dataStack[:len(f.dataStack)-1]
	return v
}

// popMany pops n values, returned in stack order (deepest first).
func (f *Fiber) popMany(n int) []Value {
	start := len(f.dataStack) - n
	values := make([]Value, n)
	copy(values, f.dataStack[start:])
	f.dataStack = f.dataStack[:start]
	return values
}

// get returns the value offset slots below the top without popping.
func (f *Fiber) get(offset int) Value {
	return f.dataStack[len(f.dataStack)-1-offset]
}

// ---------------------------------------------------------------------------
// Instruction execution
// ---------------------------------------------------------------------------

func (f *Fiber) execute(in Instruction) {
	switch in.Op {
	case OpCreateInt:
		f.push(f.heap.CreateInt(in.Int))
	case OpCreateText:
		f.push(f.heap.CreateText(in.Text))
	case OpCreateTag:
		if in.HasValue {
			payload := f.pop()
			f.push(f.heap.CreateTagWithValue(in.Symbol, payload))
		} else {
			f.push(TagToValue(in.Symbol))
		}
	case OpCreateBuiltin:
		f.push(BuiltinToValue(in.Builtin))
	case OpCreateLocation:
		f.push(f.heap.CreateLocation(in.Location))
	case OpCreateList:
		f.push(f.heap.CreateList(f.popMany(in.Count)))
	case OpCreateStruct:
		pairs := f.popMany(2 * in.Count)
		keys := make([]Value, in.Count)
		values := make([]Value, in.Count)
		for i := 0; i < in.Count; i++ {
			keys[i] = pairs[2*i]
			values[i] = pairs[2*i+1]
		}
		f.push(f.heap.CreateStruct(keys, values))
	case OpCreateFunction:
		captured := make([]Value, len(in.Captured))
		for i, offset := range in.Captured {
			v := f.get(offset)
			f.heap.Dup(v)
			captured[i] = v
		}
		f.push(f.heap.CreateFunction(captured, in.ArgCount, in.Body))
	case OpPushConstant:
		f.push(in.Constant)
	case OpPushFromStack:
		v := f.get(in.Offset)
		f.heap.Dup(v)
		f.push(v)
	case OpPopMultipleBelowTop:
		top := f.pop()
		for i := 0; i < in.Count; i++ {
			f.heap.Drop(f.pop())
		}
		f.push(top)
	case OpCall:
		responsible := f.pop()
		args := f.popMany(in.ArgCount)
		callee := f.pop()
		f.startCall(callee, args, responsible, false)
	case OpTailCall:
		responsible := f.pop()
		args := f.popMany(in.ArgCount)
		callee := f.pop()
		for i := 0; i < in.Count; i++ {
			f.heap.Drop(f.pop())
		}
		f.startCall(callee, args, responsible, true)
	case OpReturn:
		f.ret()
	case OpPanic:
		responsible := f.pop()
		reason := f.pop()
		if !f.heap.IsText(reason) {
			location := f.heap.LocationValue(responsible)
			f.heap.Drop(reason)
			f.heap.Drop(responsible)
			f.panic("The panic reason must be a text.", location)
			return
		}
		reasonText := f.heap.TextValue(reason)
		location := f.heap.LocationValue(responsible)
		f.heap.Drop(reason)
		f.heap.Drop(responsible)
		f.panic(reasonText, location)
	case OpUseModule:
		responsible := f.pop()
		path := f.pop()
		f.useModule(in.Text, path, responsible)
	case OpModuleStarts:
		for _, module := range f.importStack {
			if module == in.Text {
				f.panic("Import cycle.", Location{Module: in.Text})
				return
			}
		}
		f.importStack = append(f.importStack, in.Text)
	case OpModuleEnds:
		if len(f.importStack) == 0 {
			panic("vm: moduleEnds without matching moduleStarts")
		}
		f.importStack = f.importStack[:len(f.importStack)-1]
	case OpTraceCallStarts:
		responsible := f.pop()
		args := f.popMany(in.ArgCount)
		callee := f.pop()
		callSite := f.pop()
		f.tracer.CallStarted(f.heap, callSite, callee, args, responsible)
		f.heap.Drop(callSite)
		f.heap.Drop(callee)
		f.heap.DropAll(args)
		f.heap.Drop(responsible)
	case OpTraceCallEnds:
		returnValue := f.pop()
		f.tracer.CallEnded(f.heap, returnValue)
		f.heap.Drop(returnValue)
	case OpTraceExpressionEvaluated:
		value := f.pop()
		expression := f.pop()
		f.tracer.ValueEvaluated(f.heap, expression, value)
		f.heap.Drop(expression)
		f.heap.Drop(value)
	case OpTraceFoundFuzzableFunction:
		function := f.pop()
		definition := f.pop()
		f.tracer.FoundFuzzableFunction(f.heap, definition, function)
		f.heap.Drop(definition)
		f.heap.Drop(function)
	default:
		panic(fmt.Sprintf("vm: cannot execute %s", in.Op))
	}
}

// startCall transfers control into a function or builtin. The callee,
// arguments, and responsible value are owned by the call.
func (f *Fiber) startCall(callee Value, args []Value, responsible Value, tail bool) {
	switch {
	case f.heap.IsFunction(callee):
		expected := f.heap.FunctionArgCount(callee)
		if len(args) != expected {
			location := f.responsibleLocation(responsible)
			f.heap.Drop(callee)
			f.heap.DropAll(args)
			f.heap.Drop(responsible)
			f.panic(fmt.Sprintf(
				"A function expected %d parameters, but you called it with %d arguments.",
				expected, len(args)), location)
			return
		}
		if !tail {
			f.callStack = append(f.callStack, f.ip)
		}
		for _, captured := range f.heap.FunctionCaptured(callee) {
			f.heap.Dup(captured)
			f.push(captured)
		}
		body := f.heap.FunctionBody(callee)
		f.heap.Drop(callee)
		for _, arg := range args {
			f.push(arg)
		}
		f.push(responsible)
		f.ip = body.Start
	case callee.IsBuiltin():
		f.runBuiltin(callee.BuiltinValue(), args, responsible, tail)
	default:
		location := f.responsibleLocation(responsible)
		rendered := ToDebugText(f.heap, callee, debugTextLimit)
		f.heap.Drop(callee)
		f.heap.DropAll(args)
		f.heap.Drop(responsible)
		f.panic(fmt.Sprintf(
			"You can only call functions and builtins, but you tried to call %s.",
			rendered), location)
	}
}

func (f *Fiber) responsibleLocation(responsible Value) Location {
	if f.heap.IsLocation(responsible) {
		return f.heap.LocationValue(responsible)
	}
	return Location{}
}

// ret pops a return address, or finishes the fiber when the call stack
// is already empty.
func (f *Fiber) ret() {
	if len(f.callStack) == 0 {
		f.finish()
		return
	}
	f.ip = f.callStack[len(f.callStack)-1]
	f.callStack = f.callStack[:len(f.callStack)-1]
}

// finish packs the value on top of the stack as the fiber's result.
func (f *Fiber) finish() {
	value := f.pop()
	f.heap.DropAll(f.dataStack)
	f.dataStack = nil
	f.result = PacketFrom(f.heap, value)
	f.heap.Drop(value)
	f.status = FiberDone
}

// panic terminates the fiber abnormally, releasing its whole stack.
func (f *Fiber) panic(reason string, responsible Location) {
	f.heap.DropAll(f.dataStack)
	f.dataStack = nil
	f.callStack = nil
	f.panicReason = reason
	f.panicResponsible = responsible
	f.pendingTailReturn = false
	f.status = FiberPanicked
}

// resume returns a parked fiber to the running state, performing the
// return that was deferred when the parking call sat in tail position.
func (f *Fiber) resume() {
	f.status = FiberRunning
	if f.pendingTailReturn {
		f.pendingTailReturn = false
		f.ret()
	}
}

// ---------------------------------------------------------------------------
// Scheduler interaction
// ---------------------------------------------------------------------------

// CompleteChannelCreate resumes a fiber parked in FiberCreatingChannel
// with the two ports of the newly created channel.
func (f *Fiber) CompleteChannelCreate(channel ChannelID) {
	if f.status != FiberCreatingChannel {
		panic("vm: CompleteChannelCreate on a fiber not creating a channel")
	}
	sendPort := SendPortToValue(channel)
	receivePort := ReceivePortToValue(channel)
	f.heap.Dup(sendPort)
	f.heap.Dup(receivePort)
	result := f.heap.CreateStruct(
		[]Value{TagToValue(SymbolSendPort), TagToValue(SymbolReceivePort)},
		[]Value{sendPort, receivePort},
	)
	f.push(result)
	f.resume()
}

// CompleteSend resumes a fiber parked in FiberSending after its packet
// was accepted by the channel.
func (f *Fiber) CompleteSend() {
	if f.status != FiberSending {
		panic("vm: CompleteSend on a fiber not sending")
	}
	f.dropPendingPort()
	f.push(f.heap.Nothing())
	f.pendingPacket = Packet{}
	f.resume()
}

// CompleteReceive resumes a fiber parked in FiberReceiving with a
// packet taken from the channel.
func (f *Fiber) CompleteReceive(packet Packet) {
	if f.status != FiberReceiving {
		panic("vm: CompleteReceive on a fiber not receiving")
	}
	f.dropPendingPort()
	f.push(packet.UnpackInto(f.heap))
	f.resume()
}

func (f *Fiber) dropPendingPort() {
	if f.pendingPort != 0 {
		f.heap.Drop(f.pendingPort)
		f.pendingPort = 0
	}
}

// CompleteParallelScope resumes a fiber parked in FiberInParallelScope
// once every fiber of the scope finished. On success the result packet
// of the scope's body is delivered; on failure the whole fiber panics.
func (f *Fiber) CompleteParallelScope(result Packet, err *PanicInfo) {
	if f.status != FiberInParallelScope {
		panic("vm: CompleteParallelScope on a fiber not in a parallel scope")
	}
	if err != nil {
		f.status = FiberRunning
		f.panic(err.Reason, err.Responsible)
		return
	}
	f.push(result.UnpackInto(f.heap))
	f.resume()
}

// CompleteTry resumes a fiber parked in FiberInTry with the reified
// outcome of the tried function: Ok result or Error reasonText.
func (f *Fiber) CompleteTry(result Packet, err *PanicInfo) {
	if f.status != FiberInTry {
		panic("vm: CompleteTry on a fiber not in a try")
	}
	if err != nil {
		reason := f.heap.CreateText(err.Reason)
		f.push(f.heap.CreateError(reason))
	} else {
		f.push(f.heap.CreateOk(result.UnpackInto(f.heap)))
	}
	f.resume()
}

// PendingChannelCapacity returns the requested capacity of a fiber in
// FiberCreatingChannel.
func (f *Fiber) PendingChannelCapacity() int { return f.pendingCapacity }

// PendingChannel returns the channel of a fiber in FiberSending or
// FiberReceiving.
func (f *Fiber) PendingChannel() ChannelID { return f.pendingChannel }

// TakePendingPacket returns the packet of a fiber in FiberSending.
func (f *Fiber) TakePendingPacket() Packet {
	p := f.pendingPacket
	f.pendingPacket = Packet{}
	return p
}

// TakeScopeBody removes and returns the body function of a fiber in
// FiberInParallelScope or FiberInTry, packed for transfer.
func (f *Fiber) TakeScopeBody() Packet {
	body := f.scopeBody
	f.scopeBody = 0
	packet := PacketFrom(f.heap, body)
	f.heap.Drop(body)
	return packet
}

// PanicInfo describes an abnormal fiber termination.
type PanicInfo struct {
	Reason      string
	Responsible Location
}

// PanicNow terminates a running or parked fiber from the outside,
// releasing any pending operation state first. Used by the scheduler,
// e.g. when a channel operation can no longer complete.
func (f *Fiber) PanicNow(reason string, responsible Location) {
	if f.status == FiberDone || f.status == FiberPanicked {
		panic("vm: PanicNow on a terminated fiber")
	}
	f.releasePending()
	f.panic(reason, responsible)
}

func (f *Fiber) releasePending() {
	f.dropPendingPort()
	if f.pendingPacket.Heap != nil {
		f.pendingPacket.Heap.Drop(f.pendingPacket.Value)
		// Surface the packet heap's channel transitions through the
		// fiber's own heap so the scheduler sees them.
		created, released := f.pendingPacket.Heap.TakeChannelTransitions()
		f.heap.newChannels = append(f.heap.newChannels, created...)
		f.heap.releasedChannels = append(f.heap.releasedChannels, released...)
		f.pendingPacket = Packet{}
	}
	if f.scopeBody != 0 {
		f.heap.Drop(f.scopeBody)
		f.scopeBody = 0
	}
}

// TearDown releases everything the fiber still owns and returns the
// channels it referenced. After tear-down the fiber must not run.
func (f *Fiber) TearDown() []ChannelID {
	f.releasePending()
	f.heap.DropAll(f.dataStack)
	f.dataStack = nil
	return f.heap.ReleaseAllChannels()
}
