package vm

import (
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// VM: the fiber scheduler
// ---------------------------------------------------------------------------

// FiberID identifies a fiber within a VM. NoFiber is never assigned.
type FiberID uint64

// NoFiber is the absent fiber ID.
const NoFiber FiberID = 0

// VMStatus is the top-level execution status.
type VMStatus uint8

const (
	// VMRunning means some fiber can make progress.
	VMRunning VMStatus = iota
	// VMWaitingForOperations means every live fiber is parked on a
	// channel operation that only an external party can complete.
	VMWaitingForOperations
	// VMDone and VMPanicked are terminal.
	VMDone
	VMPanicked
)

func (s VMStatus) String() string {
	switch s {
	case VMRunning:
		return "running"
	case VMWaitingForOperations:
		return "waitingForOperations"
	case VMDone:
		return "done"
	case VMPanicked:
		return "panicked"
	default:
		panic("vm: unknown VM status")
	}
}

// fiberSliceBudget is how many instructions a fiber may execute before
// the scheduler moves on to the next runnable fiber.
const fiberSliceBudget = 100

type fiberRole uint8

const (
	roleRoot fiberRole = iota
	roleTryChild
	roleScopeBody
	roleScopeSpawned
)

type fiberEntry struct {
	id     FiberID
	fiber  *Fiber
	role   fiberRole
	queued bool

	tryParent     FiberID        // roleTryChild
	scope         *parallelScope // roleScopeBody, roleScopeSpawned
	returnChannel ChannelID      // roleScopeSpawned
}

// parallelScope tracks one parallel builtin invocation: the parked
// parent, the nursery channel, and the scope's live fibers.
type parallelScope struct {
	parent     FiberID
	nursery    ChannelID
	members    map[FiberID]struct{}
	bodyDone   bool
	bodyResult Packet
}

// Options configures a VM.
type Options struct {
	// Tracer observes the run; nil means no tracing.
	Tracer Tracer
	// UseProvider resolves use-path imports; nil makes imports fail.
	UseProvider UseProvider
	// Printer receives print builtin output; nil discards it.
	Printer func(string)
}

// VM schedules fibers round-robin, owns the channels, and relays
// channel operations between fibers and external parties.
type VM struct {
	program     *Program
	tracer      Tracer
	useProvider UseProvider
	printer     func(string)

	fibers      map[FiberID]*fiberEntry
	runQueue    []FiberID
	nextFiberID FiberID
	rootFiber   FiberID

	channels      map[ChannelID]*Channel
	nurseries     map[ChannelID]*parallelScope
	nextChannelID ChannelID

	completedOperations map[OperationID]Packet

	status    VMStatus
	result    Packet
	panicInfo *PanicInfo
}

// NewVMForModule creates a VM whose root fiber executes the program's
// entry module body. The body's result (the module's exports) becomes
// the VM result.
func NewVMForModule(program *Program, options Options) *VM {
	vm := newVM(program, options)
	vm.rootFiber = vm.spawnFiber(func(t FiberTracer) *Fiber {
		return NewFiberForModule(program, t)
	}, fiberEntry{role: roleRoot})
	vm.settleFiber(vm.rootFiber)
	return vm
}

// NewVMForFunction creates a VM whose root fiber calls the packed
// function with the packed arguments.
func NewVMForFunction(program *Program, function Packet, arguments []Packet, options Options) *VM {
	vm := newVM(program, options)
	vm.rootFiber = vm.spawnFiber(func(t FiberTracer) *Fiber {
		return NewFiberRunningFunction(program, t, function, arguments)
	}, fiberEntry{role: roleRoot})
	vm.drainPacketHeap(function.Heap)
	for _, argument := range arguments {
		vm.drainPacketHeap(argument.Heap)
	}
	vm.settleFiber(vm.rootFiber)
	return vm
}

func newVM(program *Program, options Options) *VM {
	tracer := options.Tracer
	if tracer == nil {
		tracer = NilTracer{}
	}
	return &VM{
		program:             program,
		tracer:              tracer,
		useProvider:         options.UseProvider,
		printer:             options.Printer,
		fibers:              make(map[FiberID]*fiberEntry),
		nextFiberID:         1,
		channels:            make(map[ChannelID]*Channel),
		nurseries:           make(map[ChannelID]*parallelScope),
		nextChannelID:       1,
		completedOperations: make(map[OperationID]Packet),
	}
}

// Program returns the program the VM executes.
func (vm *VM) Program() *Program { return vm.program }

// Status reports the top-level execution status.
func (vm *VM) Status() VMStatus {
	if vm.status == VMDone || vm.status == VMPanicked {
		return vm.status
	}
	for _, id := range vm.runQueue {
		if e, ok := vm.fibers[id]; ok && e.fiber.Status() == FiberRunning {
			return VMRunning
		}
	}
	return VMWaitingForOperations
}

// Result returns the packed result of a done VM.
func (vm *VM) Result() Packet {
	if vm.status != VMDone {
		panic("vm: Result called on a VM that is not done")
	}
	return vm.result
}

// Panic describes why the VM panicked.
func (vm *VM) Panic() *PanicInfo {
	if vm.status != VMPanicked {
		panic("vm: Panic called on a VM that did not panic")
	}
	return vm.panicInfo
}

// ---------------------------------------------------------------------------
// Running
// ---------------------------------------------------------------------------

// Run executes runnable fibers round-robin until the controller's
// budget is exhausted or no fiber can make progress.
func (vm *VM) Run(controller ExecutionController) {
	for controller.ShouldContinue() {
		id, ok := vm.dequeueRunnable()
		if !ok {
			break
		}
		entry := vm.fibers[id]
		vm.tracer.FiberExecutionStarted(id)
		slice := &CountingController{Budget: fiberSliceBudget}
		entry.fiber.Run(pairController{controller, slice})
		vm.tracer.FiberExecutionEnded(id)
		vm.drainHeap(entry.fiber.heap)
		if entry.fiber.Status() == FiberRunning {
			vm.enqueue(id)
		} else {
			vm.settleFiber(id)
		}
	}
	vm.sweepChannels()
}

// RunUntilTerminated runs without an instruction bound until the VM
// reaches a terminal status or everything is parked on external
// operations.
func (vm *VM) RunUntilTerminated() VMStatus {
	for vm.Status() == VMRunning {
		vm.Run(&CountingController{Budget: 10_000})
	}
	return vm.Status()
}

// pairController continues only while both controllers do.
type pairController struct {
	a, b ExecutionController
}

func (p pairController) ShouldContinue() bool {
	return p.a.ShouldContinue() && p.b.ShouldContinue()
}

func (p pairController) InstructionExecuted() {
	p.a.InstructionExecuted()
	p.b.InstructionExecuted()
}

func (vm *VM) enqueue(id FiberID) {
	entry, ok := vm.fibers[id]
	if !ok || entry.queued {
		return
	}
	entry.queued = true
	vm.runQueue = append(vm.runQueue, id)
}

func (vm *VM) dequeueRunnable() (FiberID, bool) {
	for len(vm.runQueue) > 0 {
		id := vm.runQueue[0]
		vm.runQueue = vm.runQueue[1:]
		entry, ok := vm.fibers[id]
		if !ok {
			continue
		}
		entry.queued = false
		if entry.fiber.Status() == FiberRunning {
			return id, true
		}
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Fiber lifecycle
// ---------------------------------------------------------------------------

func (vm *VM) spawnFiber(makeFiber func(FiberTracer) *Fiber, template fiberEntry) FiberID {
	id := vm.nextFiberID
	vm.nextFiberID++
	fiber := makeFiber(vm.tracer.InFiber(id))
	fiber.SetPrinter(vm.printer)
	fiber.SetUseProvider(vm.useProvider)
	entry := template
	entry.id = id
	entry.fiber = fiber
	vm.fibers[id] = &entry
	vm.tracer.FiberCreated(id)
	vm.drainHeap(fiber.heap)
	return id
}

// settleFiber inspects a fiber's status and performs whatever the
// scheduler owes it: enqueueing, channel work, scope management, or
// terminal bookkeeping.
func (vm *VM) settleFiber(id FiberID) {
	entry, ok := vm.fibers[id]
	if !ok {
		return
	}
	switch entry.fiber.Status() {
	case FiberRunning:
		vm.enqueue(id)
	case FiberCreatingChannel:
		channel := vm.createChannel(entry.fiber.PendingChannelCapacity())
		entry.fiber.CompleteChannelCreate(channel.id)
		vm.drainHeap(entry.fiber.heap)
		vm.settleFiber(id)
	case FiberSending:
		packet := entry.fiber.TakePendingPacket()
		vm.drainPacketHeap(packet.Heap)
		channelID := entry.fiber.PendingChannel()
		if scope, ok := vm.nurseries[channelID]; ok {
			vm.nurserySend(id, scope, packet)
			return
		}
		channel, ok := vm.channels[channelID]
		if !ok {
			vm.dropPacket(packet)
			entry.fiber.PanicNow("The channel is closed.", Location{})
			vm.settleFiber(id)
			return
		}
		channel.send(vm, fiberPerformer(id), packet)
	case FiberReceiving:
		channel, ok := vm.channels[entry.fiber.PendingChannel()]
		if !ok {
			entry.fiber.PanicNow("The channel is closed.", Location{})
			vm.settleFiber(id)
			return
		}
		channel.receive(vm, fiberPerformer(id))
	case FiberInParallelScope:
		vm.startParallelScope(id, entry)
	case FiberInTry:
		vm.startTry(id, entry)
	case FiberDone:
		vm.onFiberDone(id, entry)
	case FiberPanicked:
		vm.onFiberPanicked(id, entry, NoFiber)
	}
}

func (vm *VM) onFiberDone(id FiberID, entry *fiberEntry) {
	vm.tracer.FiberDone(id)
	result := entry.fiber.Result()
	vm.drainPacketHeap(result.Heap)
	vm.removeFiber(id)

	switch entry.role {
	case roleRoot:
		vm.status = VMDone
		vm.result = result
	case roleTryChild:
		if parent, ok := vm.fibers[entry.tryParent]; ok {
			parent.fiber.CompleteTry(result, nil)
			vm.drainHeap(parent.fiber.heap)
			vm.drainPacketHeap(result.Heap)
			vm.settleFiber(entry.tryParent)
		} else {
			vm.dropPacket(result)
		}
	case roleScopeBody:
		delete(entry.scope.members, id)
		entry.scope.bodyDone = true
		entry.scope.bodyResult = result
		vm.checkScope(entry.scope)
	case roleScopeSpawned:
		delete(entry.scope.members, id)
		if channel, ok := vm.channels[entry.returnChannel]; ok {
			channel.send(vm, nonePerformer(), result)
		} else {
			vm.dropPacket(result)
		}
		vm.checkScope(entry.scope)
	}
}

func (vm *VM) onFiberPanicked(id FiberID, entry *fiberEntry, cause FiberID) {
	vm.tracer.FiberPanicked(id, cause)
	info := &PanicInfo{
		Reason:      entry.fiber.PanicReason(),
		Responsible: entry.fiber.PanicResponsible(),
	}
	vm.removeFiber(id)

	switch entry.role {
	case roleRoot:
		vm.status = VMPanicked
		vm.panicInfo = info
	case roleTryChild:
		if parent, ok := vm.fibers[entry.tryParent]; ok {
			parent.fiber.CompleteTry(Packet{}, info)
			vm.drainHeap(parent.fiber.heap)
			vm.settleFiber(entry.tryParent)
		}
	case roleScopeBody, roleScopeSpawned:
		vm.collapseScope(entry.scope, id, info)
	}
}

// collapseScope cancels a scope's surviving fibers and re-raises the
// panic in the parked parent.
func (vm *VM) collapseScope(scope *parallelScope, culprit FiberID, info *PanicInfo) {
	delete(scope.members, culprit)
	for member := range scope.members {
		vm.cancelFiber(member)
	}
	scope.members = map[FiberID]struct{}{}
	if scope.bodyDone {
		vm.dropPacket(scope.bodyResult)
		scope.bodyResult = Packet{}
	}
	delete(vm.nurseries, scope.nursery)
	parent, ok := vm.fibers[scope.parent]
	if !ok {
		return
	}
	parent.fiber.CompleteParallelScope(Packet{}, info)
	vm.drainHeap(parent.fiber.heap)
	vm.onFiberPanicked(scope.parent, parent, culprit)
}

func (vm *VM) cancelFiber(id FiberID) {
	entry, ok := vm.fibers[id]
	if !ok {
		return
	}
	vm.tracer.FiberCanceled(id)
	if entry.scope != nil {
		delete(entry.scope.members, id)
	}
	vm.removeFiber(id)
}

func (vm *VM) removeFiber(id FiberID) {
	entry, ok := vm.fibers[id]
	if !ok {
		return
	}
	entry.fiber.TearDown()
	vm.drainHeap(entry.fiber.heap)
	delete(vm.fibers, id)
}

// ---------------------------------------------------------------------------
// Parallel scopes and try
// ---------------------------------------------------------------------------

func (vm *VM) startParallelScope(id FiberID, entry *fiberEntry) {
	nursery := vm.createChannel(0)
	scope := &parallelScope{
		parent:  id,
		nursery: nursery.id,
		members: make(map[FiberID]struct{}),
	}
	vm.nurseries[nursery.id] = scope

	body := entry.fiber.TakeScopeBody()
	vm.drainPacketHeap(body.Heap)

	// The body receives the nursery's send port as its argument.
	argHeap := NewHeap(vm.program.Symbols, vm.program.Constants)
	port := SendPortToValue(nursery.id)
	argHeap.DupBy(port, 1)
	vm.drainHeap(argHeap)

	child := vm.spawnFiber(func(t FiberTracer) *Fiber {
		return NewFiberRunningFunction(vm.program, t, body, []Packet{{Heap: argHeap, Value: port}})
	}, fiberEntry{role: roleScopeBody, scope: scope})
	vm.drainHeap(argHeap)
	vm.drainPacketHeap(body.Heap)
	scope.members[child] = struct{}{}
	vm.settleFiber(child)
}

func (vm *VM) startTry(id FiberID, entry *fiberEntry) {
	body := entry.fiber.TakeScopeBody()
	vm.drainPacketHeap(body.Heap)
	child := vm.spawnFiber(func(t FiberTracer) *Fiber {
		return NewFiberRunningFunction(vm.program, t, body, nil)
	}, fiberEntry{role: roleTryChild, tryParent: id})
	vm.drainPacketHeap(body.Heap)
	vm.settleFiber(child)
}

func (vm *VM) checkScope(scope *parallelScope) {
	if !scope.bodyDone || len(scope.members) > 0 {
		return
	}
	delete(vm.nurseries, scope.nursery)
	parent, ok := vm.fibers[scope.parent]
	if !ok {
		vm.dropPacket(scope.bodyResult)
		return
	}
	parent.fiber.CompleteParallelScope(scope.bodyResult, nil)
	vm.drainHeap(parent.fiber.heap)
	vm.drainPacketHeap(scope.bodyResult.Heap)
	vm.settleFiber(scope.parent)
}

// nurserySend handles a send to a scope's nursery: the packet must be
// a struct {Function: f, Channel: returnPort}; it spawns a scope fiber
// running f whose result is sent to returnPort's channel.
func (vm *VM) nurserySend(sender FiberID, scope *parallelScope, packet Packet) {
	ph := packet.Heap
	valid := ph.IsStruct(packet.Value)
	var function, returnPort Value
	if valid {
		function, valid = ph.StructGet(packet.Value, TagToValue(SymbolFunction))
	}
	if valid {
		returnPort, valid = ph.StructGet(packet.Value, TagToValue(SymbolChannel))
	}
	if valid {
		valid = ph.IsFunction(function) && ph.FunctionArgCount(function) == 0 &&
			returnPort.IsSendPort()
	}
	entry := vm.fibers[sender]
	if !valid {
		vm.dropPacket(packet)
		if entry != nil {
			entry.fiber.PanicNow(
				"You can only send structs with a Function and a Channel to a nursery.",
				Location{})
			vm.drainHeap(entry.fiber.heap)
			vm.settleFiber(sender)
		}
		return
	}

	body := PacketFrom(ph, function)
	returnChannel := returnPort.PortChannel()
	vm.dropPacket(packet)
	vm.drainPacketHeap(body.Heap)

	child := vm.spawnFiber(func(t FiberTracer) *Fiber {
		return NewFiberRunningFunction(vm.program, t, body, nil)
	}, fiberEntry{role: roleScopeSpawned, scope: scope, returnChannel: returnChannel})
	vm.drainPacketHeap(body.Heap)
	scope.members[child] = struct{}{}
	vm.completeSend(fiberPerformer(sender))
	vm.settleFiber(child)
}

// ---------------------------------------------------------------------------
// Channels
// ---------------------------------------------------------------------------

func (vm *VM) createChannel(capacity int) *Channel {
	id := vm.nextChannelID
	vm.nextChannelID++
	channel := newChannel(id, capacity)
	vm.channels[id] = channel
	vm.tracer.ChannelCreated(id)
	return channel
}

// completeSend and completeReceive implement channelCompleter.
func (vm *VM) completeSend(p performer) {
	switch p.kind {
	case performerFiber:
		if entry, ok := vm.fibers[p.fiber]; ok {
			entry.fiber.CompleteSend()
			vm.drainHeap(entry.fiber.heap)
			vm.settleFiber(p.fiber)
		}
	case performerExternal:
		vm.completedOperations[p.external] = Packet{}
	case performerNone:
	}
}

func (vm *VM) completeReceive(p performer, packet Packet) {
	switch p.kind {
	case performerFiber:
		if entry, ok := vm.fibers[p.fiber]; ok {
			entry.fiber.CompleteReceive(packet)
			vm.drainHeap(entry.fiber.heap)
			vm.drainPacketHeap(packet.Heap)
			vm.settleFiber(p.fiber)
			return
		}
		vm.dropPacket(packet)
	case performerExternal:
		vm.completedOperations[p.external] = packet
	case performerNone:
		vm.dropPacket(packet)
	}
}

// drainHeap applies a heap's channel reference transitions to the
// scheduler's channels. Destruction is deferred to sweepChannels so
// transient zero counts inside a completion cascade are harmless.
func (vm *VM) drainHeap(h *Heap) {
	created, released := h.TakeChannelTransitions()
	for _, id := range created {
		if channel, ok := vm.channels[id]; ok {
			channel.refCount++
		}
	}
	for _, id := range released {
		if channel, ok := vm.channels[id]; ok {
			channel.refCount--
		}
	}
}

func (vm *VM) drainPacketHeap(h *Heap) {
	if h != nil {
		vm.drainHeap(h)
	}
}

func (vm *VM) dropPacket(p Packet) {
	if p.Heap == nil {
		return
	}
	p.Heap.Drop(p.Value)
	vm.drainHeap(p.Heap)
}

// sweepChannels destroys channels no heap references anymore.
func (vm *VM) sweepChannels() {
	for id, channel := range vm.channels {
		if channel.refCount > 0 {
			continue
		}
		if _, isNursery := vm.nurseries[id]; isNursery {
			continue
		}
		for _, packet := range channel.drainBuffered() {
			vm.dropPacket(packet)
		}
		delete(vm.channels, id)
	}
}

// ---------------------------------------------------------------------------
// External channel operations
// ---------------------------------------------------------------------------

// CreateChannel creates a channel on behalf of the host. The host
// counts as an owner until ReleaseChannel is called.
func (vm *VM) CreateChannel(capacity int) ChannelID {
	channel := vm.createChannel(capacity)
	channel.refCount++
	return channel.id
}

// ReleaseChannel gives up the host's ownership of a channel.
func (vm *VM) ReleaseChannel(id ChannelID) {
	if channel, ok := vm.channels[id]; ok {
		channel.refCount--
	}
}

// NewPacketHeap returns a fresh heap suitable for building packets to
// send into the VM.
func (vm *VM) NewPacketHeap() *Heap {
	return NewHeap(vm.program.Symbols, vm.program.Constants)
}

// SendExternal queues a send performed by the host and returns the
// operation's ID. The packet is consumed.
func (vm *VM) SendExternal(id ChannelID, packet Packet) (OperationID, bool) {
	channel, ok := vm.channels[id]
	if !ok {
		vm.dropPacket(packet)
		return OperationID{}, false
	}
	vm.drainPacketHeap(packet.Heap)
	operation := uuid.New()
	channel.send(vm, externalPerformer(operation), packet)
	return operation, true
}

// ReceiveExternal queues a receive performed by the host and returns
// the operation's ID.
func (vm *VM) ReceiveExternal(id ChannelID) (OperationID, bool) {
	channel, ok := vm.channels[id]
	if !ok {
		return OperationID{}, false
	}
	operation := uuid.New()
	channel.receive(vm, externalPerformer(operation))
	return operation, true
}

// PollOperation reports whether an external operation completed. For
// receives the packet carries the received value; for sends it is
// empty. A completed operation is reported once.
func (vm *VM) PollOperation(id OperationID) (Packet, bool) {
	packet, ok := vm.completedOperations[id]
	if ok {
		delete(vm.completedOperations, id)
	}
	return packet, ok
}

// ---------------------------------------------------------------------------
// Tear-down
// ---------------------------------------------------------------------------

// VMEnded is the final state handed out by TearDown.
type VMEnded struct {
	Status VMStatus
	Result Packet     // valid when Status is VMDone
	Panic  *PanicInfo // valid when Status is VMPanicked
}

// TearDown cancels every live fiber, destroys all channels, and
// returns the final state. The VM must not be used afterwards.
func (vm *VM) TearDown() VMEnded {
	for id := range vm.fibers {
		vm.cancelFiber(id)
	}
	vm.nurseries = make(map[ChannelID]*parallelScope)
	for _, channel := range vm.channels {
		for _, packet := range channel.drainBuffered() {
			vm.dropPacket(packet)
		}
	}
	vm.channels = make(map[ChannelID]*Channel)
	ended := VMEnded{Status: vm.status}
	switch vm.status {
	case VMDone:
		ended.Result = vm.result
	case VMPanicked:
		ended.Panic = vm.panicInfo
	default:
		ended.Status = vm.Status()
	}
	return ended
}
