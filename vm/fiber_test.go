package vm

import (
	"math/big"
	"testing"
)

// ---------------------------------------------------------------------------
// Interpreter tests
// ---------------------------------------------------------------------------

func TestRunSimpleArithmetic(t *testing.T) {
	// 2 + 3
	p := buildProgram(
		iBuiltin(BuiltinIntAdd),
		iInt(2),
		iInt(3),
		iLocation("main"),
		iCall(2),
		iReturn(),
	)
	f := runEntry(t, p)
	wantInt(t, doneResult(t, f), 5)
}

func TestRunFunctionCallAndReturn(t *testing.T) {
	// Body at 0..3: a one-argument function returning arg+1. Frame
	// layout on entry: [arg, responsible].
	// Entry: create the function, call it with 41.
	p := buildProgramWithEntry(CodeRange{Start: 5, End: 11},
		// function body
		iBuiltin(BuiltinIntAdd),      // 0: [arg, resp, intAdd]
		iDup(2),                      // 1: [arg, resp, intAdd, arg]
		iInt(1),                      // 2
		iDup(3),                      // 3: responsible
		Instruction{Op: OpTailCall, ArgCount: 2, Count: 2}, // 4: pop arg+resp locals
		// entry
		Instruction{Op: OpCreateFunction, ArgCount: 1, Body: CodeRange{Start: 0, End: 5}}, // 5
		iInt(41),        // 6
		iLocation("main"), // 7
		iCall(1),        // 8
		iReturn(),       // 9
		iReturn(),       // 10: unreachable padding so the entry range is in bounds
	)
	f := runEntry(t, p)
	wantInt(t, doneResult(t, f), 42)
}

// The entry call of a spawned fiber pushes no return address, so the
// body's final return completes the fiber instead of restarting its
// code from the top.
func TestSpawnedFiberFinishesOnReturn(t *testing.T) {
	p := buildProgram(iReturn())
	fnHeap := NewHeap(p.Symbols, p.Constants)
	fn := fnHeap.CreateFunction(nil, 0, CodeRange{Start: 0, End: 1})
	f := NewFiberRunningFunction(p, nil, PacketFrom(fnHeap, fn), nil)
	fnHeap.Drop(fn)

	f.Run(UnlimitedController{})
	if f.Status() != FiberDone {
		t.Fatalf("fiber status = %s, want %s", f.Status(), FiberDone)
	}
	if got := f.Heap().ObjectCount(); got != 0 {
		t.Errorf("fiber heap still holds %d objects after finishing", got)
	}
}

func TestRunCapturedValues(t *testing.T) {
	// Entry pushes 10, creates a zero-argument function capturing it,
	// then calls the function, which returns the captured value.
	p := buildProgramWithEntry(CodeRange{Start: 3, End: 10},
		// function body; frame: [captured, responsible]
		iDup(1),  // 0: push captured again
		Instruction{Op: OpPopMultipleBelowTop, Count: 2}, // 1: drop frame
		iReturn(), // 2
		// entry
		iInt(10), // 3
		Instruction{Op: OpCreateFunction, Captured: []int{0}, ArgCount: 0, Body: CodeRange{Start: 0, End: 3}}, // 4
		iLocation("main"), // 5
		iCall(0),          // 6
		// stack: [10, result]
		Instruction{Op: OpPopMultipleBelowTop, Count: 1}, // 7
		iReturn(), // 8
		iReturn(), // 9
	)
	f := runEntry(t, p)
	wantInt(t, doneResult(t, f), 10)
}

func TestCallWrongArity(t *testing.T) {
	p := buildProgramWithEntry(CodeRange{Start: 1, End: 6},
		iReturn(), // 0: function body (never reached)
		Instruction{Op: OpCreateFunction, ArgCount: 2, Body: CodeRange{Start: 0, End: 1}}, // 1
		iInt(1),           // 2
		iLocation("main"), // 3
		iCall(1),          // 4
		iReturn(),         // 5
	)
	f := runEntry(t, p)
	wantPanic(t, f, "A function expected 2 parameters, but you called it with 1 arguments.")
}

func TestCallNonCallable(t *testing.T) {
	p := buildProgram(
		iInt(3),
		iLocation("main"),
		iCall(0),
		iReturn(),
	)
	f := runEntry(t, p)
	wantPanic(t, f, "You can only call functions and builtins, but you tried to call 3.")
}

func TestPanicInstruction(t *testing.T) {
	p := buildProgram(
		iText("it broke"),
		iLocation("main"),
		Instruction{Op: OpPanic},
		iReturn(),
	)
	f := runEntry(t, p)
	wantPanic(t, f, "it broke")
	if f.PanicResponsible().Module != "main" {
		t.Errorf("responsible module = %q, want main", f.PanicResponsible().Module)
	}
}

func TestPanicReasonMustBeText(t *testing.T) {
	p := buildProgram(
		iInt(99),
		iLocation("main"),
		Instruction{Op: OpPanic},
		iReturn(),
	)
	f := runEntry(t, p)
	wantPanic(t, f, "The panic reason must be a text.")
}

func TestCreateListAndStruct(t *testing.T) {
	p := buildProgram(
		iInt(1),
		iInt(2),
		Instruction{Op: OpCreateList, Count: 2},
		iReturn(),
	)
	f := runEntry(t, p)
	result := doneResult(t, f)
	if !result.Heap.IsList(result.Value) {
		t.Fatal("result is not a list")
	}
	items := result.Heap.ListItems(result.Value)
	if len(items) != 2 || items[0].InlineIntValue() != 1 || items[1].InlineIntValue() != 2 {
		t.Errorf("list = %s, want (1, 2)",
			ToDebugText(result.Heap, result.Value, DebugTextUnlimited))
	}

	p2 := buildProgram(
		iTag(SymbolOk),
		iInt(7),
		Instruction{Op: OpCreateStruct, Count: 1},
		iReturn(),
	)
	f2 := runEntry(t, p2)
	result2 := doneResult(t, f2)
	v, ok := result2.Heap.StructGet(result2.Value, TagToValue(SymbolOk))
	if !ok || v.InlineIntValue() != 7 {
		t.Errorf("struct = %s, want [Ok: 7]",
			ToDebugText(result2.Heap, result2.Value, DebugTextUnlimited))
	}
}

func TestCreateTagWithPayload(t *testing.T) {
	p := buildProgram(
		iInt(5),
		Instruction{Op: OpCreateTag, Symbol: SymbolError, HasValue: true},
		iReturn(),
	)
	f := runEntry(t, p)
	result := doneResult(t, f)
	if !result.Heap.IsTag(result.Value) {
		t.Fatal("result is not a tag")
	}
	payload, ok := result.Heap.TagValue(result.Value)
	if !ok || payload.InlineIntValue() != 5 {
		t.Errorf("tag payload wrong: %s",
			ToDebugText(result.Heap, result.Value, DebugTextUnlimited))
	}
}

func TestPushConstant(t *testing.T) {
	p := NewProgram()
	constant := p.Constants.CreateText("pinned")
	p.Instructions = []Instruction{
		{Op: OpPushConstant, Constant: constant},
		iReturn(),
	}
	p.Entry = CodeRange{Start: 0, End: 2}
	p.EntryModule = "main"
	f := runEntry(t, p)
	wantText(t, doneResult(t, f), "pinned")
}

func TestTailCallDoesNotGrowCallStack(t *testing.T) {
	// loop(n, self) counts down to zero with `ifElse` in tail position,
	// recursing via a tail call to self. The call stack must never hold
	// more than the single frame of the outer call.
	//
	// loop body; frame on entry: [n, self, responsible].
	p := buildProgramWithEntry(CodeRange{Start: 25, End: 33},
		iBuiltin(BuiltinEquals), // 0
		iDup(3),                 // 1: n
		iInt(0),                 // 2
		iDup(3),                 // 3: responsible
		iCall(2),                // 4: -> [n, self, resp, isZero]
		// then branch: returns 0
		Instruction{Op: OpCreateFunction, ArgCount: 0, Body: CodeRange{Start: 13, End: 16}}, // 5
		// else branch, capturing n and self
		Instruction{Op: OpCreateFunction, Captured: []int{4, 3}, ArgCount: 0, Body: CodeRange{Start: 16, End: 25}}, // 6
		iBuiltin(BuiltinIfElse), // 7
		iDup(3),                 // 8: isZero
		iDup(3),                 // 9: then
		iDup(3),                 // 10: else
		iDup(7),                 // 11: responsible
		Instruction{Op: OpTailCall, ArgCount: 3, Count: 6}, // 12: the whole frame dies
		// then body; frame: [responsible]
		iInt(0), // 13
		Instruction{Op: OpPopMultipleBelowTop, Count: 1}, // 14
		iReturn(), // 15
		// else body; frame: [n, self, responsible]
		iDup(1),                      // 16: self as callee
		iBuiltin(BuiltinIntSubtract), // 17
		iDup(4),                      // 18: n
		iInt(1),                      // 19
		iDup(4),                      // 20: responsible
		iCall(2),                     // 21: -> [n, self, resp, self, n-1]
		iDup(3),                      // 22: self as second argument
		iDup(3),                      // 23: responsible
		Instruction{Op: OpTailCall, ArgCount: 2, Count: 3}, // 24
		// entry
		Instruction{Op: OpCreateFunction, ArgCount: 2, Body: CodeRange{Start: 0, End: 13}}, // 25
		iDup(0),           // 26: callee copy
		iInt(300),         // 27
		iDup(2),           // 28: self argument
		iLocation("main"), // 29
		iCall(2),          // 30
		Instruction{Op: OpPopMultipleBelowTop, Count: 1}, // 31: drop the spare loop value
		iReturn(), // 32
	)
	f := runEntry(t, p)
	wantInt(t, doneResult(t, f), 0)
	if len(f.callStack) != 0 {
		t.Errorf("call stack has %d frames after the run, want 0", len(f.callStack))
	}
}

func TestBigIntArithmetic(t *testing.T) {
	// (maxInline + maxInline) stays correct beyond the inline range.
	p := buildProgram(
		iBuiltin(BuiltinIntAdd),
		Instruction{Op: OpCreateInt, Int: big.NewInt(MaxInlineInt)},
		Instruction{Op: OpCreateInt, Int: big.NewInt(MaxInlineInt)},
		iLocation("main"),
		iCall(2),
		iReturn(),
	)
	f := runEntry(t, p)
	result := doneResult(t, f)
	want := new(big.Int).Add(big.NewInt(MaxInlineInt), big.NewInt(MaxInlineInt))
	if result.Heap.BigIntValue(result.Value).Cmp(want) != 0 {
		t.Errorf("result = %s, want %s",
			result.Heap.BigIntValue(result.Value), want)
	}
}

func TestExecutionControllerYields(t *testing.T) {
	p := buildProgram(
		iInt(1),
		iInt(2),
		iInt(3),
		Instruction{Op: OpCreateList, Count: 3},
		iReturn(),
	)
	f := NewFiberForModule(p, nil)
	f.Run(&CountingController{Budget: 2})
	if f.Status() != FiberRunning {
		t.Fatalf("fiber status = %s, want still running after 2 instructions", f.Status())
	}
	f.Run(UnlimitedController{})
	if f.Status() != FiberDone {
		t.Fatalf("fiber status = %s, want done after resuming", f.Status())
	}
}

func TestFinishDropsRestOfStack(t *testing.T) {
	p := buildProgram(
		iText("leaked?"),
		iInt(1),
		iReturn(),
	)
	f := runEntry(t, p)
	wantInt(t, doneResult(t, f), 1)
	if f.Heap().ObjectCount() != 0 {
		t.Errorf("fiber heap has %d objects after finishing, want 0",
			f.Heap().ObjectCount())
	}
}
