package vm

import (
	"testing"
)

// runVM creates a module VM over the program and runs it until it
// terminates or parks on external operations.
func runVM(t *testing.T, p *Program, options Options) *VM {
	t.Helper()
	if err := p.Validate(); err != nil {
		t.Fatalf("program does not validate: %v", err)
	}
	vm := NewVMForModule(p, options)
	vm.RunUntilTerminated()
	return vm
}

// vmResult fails the test unless the VM finished normally.
func vmResult(t *testing.T, vm *VM) Packet {
	t.Helper()
	if vm.Status() != VMDone {
		if vm.Status() == VMPanicked {
			t.Fatalf("VM panicked: %s", vm.Panic().Reason)
		}
		t.Fatalf("VM status = %s, want %s", vm.Status(), VMDone)
	}
	return vm.Result()
}

func wantVMPanic(t *testing.T, vm *VM, reason string) {
	t.Helper()
	if vm.Status() != VMPanicked {
		t.Fatalf("VM status = %s, want %s", vm.Status(), VMPanicked)
	}
	if got := vm.Panic().Reason; got != reason {
		t.Errorf("panic reason = %q, want %q", got, reason)
	}
}

func TestVMModuleResult(t *testing.T) {
	vm := runVM(t, buildProgram(iInt(42), iReturn()), Options{})
	wantInt(t, vmResult(t, vm), 42)
}

func TestVMPrinter(t *testing.T) {
	var printed []string
	vm := runVM(t, buildProgram(
		iBuiltin(BuiltinPrint),
		iText("hi"),
		iLocation("main"),
		iCall(1),
		iReturn(),
	), Options{Printer: func(s string) { printed = append(printed, s) }})
	vmResult(t, vm)
	if len(printed) != 1 || printed[0] != "hi" {
		t.Errorf("printed = %v, want [hi]", printed)
	}
}

// A single fiber sends into a buffered channel and receives its own
// message back.
func TestVMBufferedChannelRoundTrip(t *testing.T) {
	vm := runVM(t, buildProgram(
		iBuiltin(BuiltinChannelCreate), // 0
		iInt(1),                        // 1
		iLocation("main"),              // 2
		iCall(1),                       // 3: [ports]
		iBuiltin(BuiltinStructGet),     // 4
		iDup(1),                        // 5: ports
		iTag(SymbolSendPort),           // 6
		iLocation("main"),              // 7
		iCall(2),                       // 8: [ports, sendPort]
		iBuiltin(BuiltinChannelSend),   // 9
		iDup(1),                        // 10: sendPort
		iInt(42),                       // 11
		iLocation("main"),              // 12
		iCall(2),                       // 13: [ports, sendPort, Nothing]
		iBuiltin(BuiltinStructGet),     // 14
		iDup(3),                        // 15: ports
		iTag(SymbolReceivePort),        // 16
		iLocation("main"),              // 17
		iCall(2),                       // 18: [ports, sendPort, Nothing, receivePort]
		iBuiltin(BuiltinChannelReceive), // 19
		iDup(1),                         // 20: receivePort
		iLocation("main"),               // 21
		iCall(1),                        // 22: [ports, sendPort, Nothing, receivePort, 42]
		Instruction{Op: OpPopMultipleBelowTop, Count: 4}, // 23
		iReturn(), // 24
	), Options{})
	wantInt(t, vmResult(t, vm), 42)
	if got := len(vm.channels); got != 0 {
		t.Errorf("%d channels survived the run", got)
	}
}

// A send on a full unbuffered channel with no receiver parks the only
// fiber; the VM reports it is waiting for external operations.
func TestVMUnbufferedSendParks(t *testing.T) {
	vm := runVM(t, buildProgram(
		iBuiltin(BuiltinChannelCreate),
		iInt(0),
		iLocation("main"),
		iCall(1),
		iBuiltin(BuiltinStructGet),
		iDup(1),
		iTag(SymbolSendPort),
		iLocation("main"),
		iCall(2),
		iBuiltin(BuiltinChannelSend),
		iDup(1),
		iInt(1),
		iLocation("main"),
		iCall(2),
		iReturn(),
	), Options{})
	if got := vm.Status(); got != VMWaitingForOperations {
		t.Errorf("VM status = %s, want %s", got, VMWaitingForOperations)
	}
}

// The host receives the value a parked program fiber is sending, then
// the program runs to completion.
func TestVMReceiveExternal(t *testing.T) {
	vm := runVM(t, buildProgram(
		iBuiltin(BuiltinChannelCreate), // 0
		iInt(0),                        // 1
		iLocation("main"),              // 2
		iCall(1),                       // 3
		iBuiltin(BuiltinStructGet),     // 4
		iDup(1),                        // 5
		iTag(SymbolSendPort),           // 6
		iLocation("main"),              // 7
		iCall(2),                       // 8: [ports, sendPort]
		iBuiltin(BuiltinChannelSend),   // 9
		iDup(1),                        // 10
		iInt(42),                       // 11
		iLocation("main"),              // 12
		iCall(2),                       // 13: parks, then [ports, sendPort, Nothing]
		iInt(7),                        // 14
		Instruction{Op: OpPopMultipleBelowTop, Count: 3}, // 15
		iReturn(), // 16
	), Options{})
	if vm.Status() != VMWaitingForOperations {
		t.Fatalf("VM status = %s, want %s", vm.Status(), VMWaitingForOperations)
	}

	operation, ok := vm.ReceiveExternal(ChannelID(1))
	if !ok {
		t.Fatalf("ReceiveExternal failed")
	}
	packet, ok := vm.PollOperation(operation)
	if !ok {
		t.Fatalf("receive operation did not complete")
	}
	wantInt(t, packet, 42)
	if _, ok := vm.PollOperation(operation); ok {
		t.Errorf("operation reported complete twice")
	}

	vm.RunUntilTerminated()
	wantInt(t, vmResult(t, vm), 7)
}

// The host sends a value to a parked program receiver.
func TestVMSendExternal(t *testing.T) {
	vm := runVM(t, buildProgram(
		iBuiltin(BuiltinChannelCreate), // 0
		iInt(0),                        // 1
		iLocation("main"),              // 2
		iCall(1),                       // 3
		iBuiltin(BuiltinStructGet),     // 4
		iDup(1),                        // 5
		iTag(SymbolReceivePort),        // 6
		iLocation("main"),              // 7
		iCall(2),                       // 8: [ports, receivePort]
		iBuiltin(BuiltinChannelReceive), // 9
		iDup(1),                         // 10
		iLocation("main"),               // 11
		iCall(1),                        // 12: parks, then [ports, receivePort, value]
		Instruction{Op: OpPopMultipleBelowTop, Count: 2}, // 13
		iReturn(), // 14
	), Options{})
	if vm.Status() != VMWaitingForOperations {
		t.Fatalf("VM status = %s, want %s", vm.Status(), VMWaitingForOperations)
	}

	h := vm.NewPacketHeap()
	operation, ok := vm.SendExternal(ChannelID(1), Packet{Heap: h, Value: h.CreateIntFromInt64(99)})
	if !ok {
		t.Fatalf("SendExternal failed")
	}
	if _, ok := vm.PollOperation(operation); !ok {
		t.Errorf("send operation did not complete")
	}

	vm.RunUntilTerminated()
	wantInt(t, vmResult(t, vm), 99)
}

func TestVMTryCatchesPanic(t *testing.T) {
	vm := runVM(t, buildProgramWithEntry(CodeRange{Start: 3, End: 8},
		// tried body: panics
		iText("boom"),           // 0
		iLocation("main"),       // 1
		Instruction{Op: OpPanic}, // 2
		// entry
		iBuiltin(BuiltinTry), // 3
		Instruction{Op: OpCreateFunction, ArgCount: 0, Body: CodeRange{Start: 0, End: 3}}, // 4
		iLocation("main"), // 5
		iCall(1),          // 6
		iReturn(),         // 7
	), Options{})
	result := vmResult(t, vm)
	if !result.Heap.IsTag(result.Value) || result.Heap.TagSymbol(result.Value) != SymbolError {
		t.Fatalf("result = %s, want Error", ToDebugText(result.Heap, result.Value, DebugTextUnlimited))
	}
	reason, _ := result.Heap.TagValue(result.Value)
	wantText(t, Packet{Heap: result.Heap, Value: reason}, "boom")
}

func TestVMTrySuccess(t *testing.T) {
	vm := runVM(t, buildProgramWithEntry(CodeRange{Start: 3, End: 8},
		// tried body: returns 5
		iInt(5), // 0
		Instruction{Op: OpPopMultipleBelowTop, Count: 1}, // 1: drop the responsible value
		iReturn(), // 2
		// entry
		iBuiltin(BuiltinTry), // 3
		Instruction{Op: OpCreateFunction, ArgCount: 0, Body: CodeRange{Start: 0, End: 3}}, // 4
		iLocation("main"), // 5
		iCall(1),          // 6
		iReturn(),         // 7
	), Options{})
	result := vmResult(t, vm)
	if !result.Heap.IsTag(result.Value) || result.Heap.TagSymbol(result.Value) != SymbolOk {
		t.Fatalf("result = %s, want Ok", ToDebugText(result.Heap, result.Value, DebugTextUnlimited))
	}
	value, _ := result.Heap.TagValue(result.Value)
	wantInt(t, Packet{Heap: result.Heap, Value: value}, 5)
}

// A parallel scope whose body spawns one task through the nursery and
// collects its result from a return channel.
func TestVMParallelSpawn(t *testing.T) {
	task := CodeRange{Start: 0, End: 3}
	body := CodeRange{Start: 3, End: 32}
	vm := runVM(t, buildProgramWithEntry(CodeRange{Start: 32, End: 37},
		// task: returns 99. Frame: [responsible].
		iInt(99), // 0
		Instruction{Op: OpPopMultipleBelowTop, Count: 1}, // 1
		iReturn(), // 2
		// scope body. Frame: [nursery, responsible].
		iBuiltin(BuiltinChannelCreate), // 3
		iInt(1),                        // 4
		iLocation("main"),              // 5
		iCall(1),                       // 6: [n, resp, ports]
		iBuiltin(BuiltinStructGet),     // 7
		iDup(1),                        // 8: ports
		iTag(SymbolSendPort),           // 9
		iLocation("main"),              // 10
		iCall(2),                       // 11: [n, resp, ports, retSend]
		iBuiltin(BuiltinStructGet),     // 12
		iDup(2),                        // 13: ports
		iTag(SymbolReceivePort),        // 14
		iLocation("main"),              // 15
		iCall(2),                       // 16: [n, resp, ports, retSend, retReceive]
		iBuiltin(BuiltinChannelSend),   // 17
		iDup(5),                        // 18: nursery
		iTag(SymbolFunction),           // 19
		Instruction{Op: OpCreateFunction, ArgCount: 0, Body: task}, // 20
		iTag(SymbolChannel), // 21
		iDup(6),             // 22: retSend
		Instruction{Op: OpCreateStruct, Count: 2}, // 23
		iLocation("main"),                         // 24
		iCall(2),                                  // 25: [n, resp, ports, retSend, retReceive, Nothing]
		iBuiltin(BuiltinChannelReceive),           // 26
		iDup(2),                                   // 27: retReceive
		iLocation("main"),                         // 28
		iCall(1),                                  // 29: [n, resp, ports, retSend, retReceive, Nothing, 99]
		Instruction{Op: OpPopMultipleBelowTop, Count: 6}, // 30
		iReturn(), // 31
		// entry
		iBuiltin(BuiltinParallel), // 32
		Instruction{Op: OpCreateFunction, ArgCount: 1, Body: body}, // 33
		iLocation("main"), // 34
		iCall(1),          // 35
		iReturn(),         // 36
	), Options{})
	wantInt(t, vmResult(t, vm), 99)
	if got := len(vm.fibers); got != 0 {
		t.Errorf("%d fibers survived the run", got)
	}
}

// Sending anything but a spawn struct to a nursery panics the sender,
// which collapses the scope and re-raises in the root fiber.
func TestVMNurseryInvalidSend(t *testing.T) {
	body := CodeRange{Start: 0, End: 6}
	vm := runVM(t, buildProgramWithEntry(CodeRange{Start: 6, End: 11},
		// scope body: sends a bare int to the nursery. Frame: [n, resp].
		iBuiltin(BuiltinChannelSend), // 0
		iDup(2),                      // 1: nursery
		iInt(5),                      // 2
		iLocation("main"),            // 3
		iCall(2),                     // 4
		iReturn(),                    // 5
		// entry
		iBuiltin(BuiltinParallel), // 6
		Instruction{Op: OpCreateFunction, ArgCount: 1, Body: body}, // 7
		iLocation("main"), // 8
		iCall(1),          // 9
		iReturn(),         // 10
	), Options{})
	wantVMPanic(t, vm,
		"You can only send structs with a Function and a Channel to a nursery.")
}

// A panic inside a parallel scope collapses the scope, and an
// enclosing try observes it as an Error.
func TestVMTryAroundCollapsedScope(t *testing.T) {
	scopeBody := CodeRange{Start: 0, End: 3}
	triedBody := CodeRange{Start: 3, End: 8}
	vm := runVM(t, buildProgramWithEntry(CodeRange{Start: 8, End: 13},
		// scope body: panics. Frame: [n, resp].
		iText("kaboom"),          // 0
		iLocation("main"),        // 1
		Instruction{Op: OpPanic}, // 2
		// tried body: opens the parallel scope. Frame: [resp].
		iBuiltin(BuiltinParallel), // 3
		Instruction{Op: OpCreateFunction, ArgCount: 1, Body: scopeBody}, // 4
		iLocation("main"), // 5
		iCall(1),          // 6
		iReturn(),         // 7
		// entry
		iBuiltin(BuiltinTry), // 8
		Instruction{Op: OpCreateFunction, ArgCount: 0, Body: triedBody}, // 9
		iLocation("main"), // 10
		iCall(1),          // 11
		iReturn(),         // 12
	), Options{})
	result := vmResult(t, vm)
	if !result.Heap.IsTag(result.Value) || result.Heap.TagSymbol(result.Value) != SymbolError {
		t.Fatalf("result = %s, want Error", ToDebugText(result.Heap, result.Value, DebugTextUnlimited))
	}
	reason, _ := result.Heap.TagValue(result.Value)
	wantText(t, Packet{Heap: result.Heap, Value: reason}, "kaboom")
}

// NewVMForFunction calls a packed function with packed arguments.
func TestVMForFunction(t *testing.T) {
	p := buildProgramWithEntry(CodeRange{Start: 6, End: 8},
		// function body: doubles its argument. Frame: [arg, resp].
		iBuiltin(BuiltinIntAdd), // 0
		iDup(2),                 // 1: arg
		iDup(3),                 // 2: arg
		iDup(3),                 // 3: resp
		Instruction{Op: OpTailCall, ArgCount: 2, Count: 2}, // 4
		iReturn(), // 5: unreachable
		// entry (unused)
		iInt(0),   // 6
		iReturn(), // 7
	)
	if err := p.Validate(); err != nil {
		t.Fatalf("program does not validate: %v", err)
	}

	fnHeap := NewHeap(p.Symbols, p.Constants)
	fn := fnHeap.CreateFunction(nil, 1, CodeRange{Start: 0, End: 6})
	argHeap := NewHeap(p.Symbols, p.Constants)
	arg := argHeap.CreateIntFromInt64(21)

	vm := NewVMForFunction(p,
		PacketFrom(fnHeap, fn), []Packet{PacketFrom(argHeap, arg)}, Options{})
	fnHeap.Drop(fn)
	argHeap.Drop(arg)
	vm.RunUntilTerminated()
	wantInt(t, vmResult(t, vm), 42)
}
