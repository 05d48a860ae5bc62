package vm

import (
	"math/big"
	"testing"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// buildProgram assembles an instruction list into a program whose
// entry covers the whole list.
func buildProgram(instructions ...Instruction) *Program {
	p := NewProgram()
	p.Instructions = instructions
	p.Entry = CodeRange{Start: 0, End: len(instructions)}
	p.EntryModule = "main"
	return p
}

// buildProgramWithEntry assembles instructions with an explicit entry
// range; function and module bodies can live outside the entry.
func buildProgramWithEntry(entry CodeRange, instructions ...Instruction) *Program {
	p := buildProgram(instructions...)
	p.Entry = entry
	return p
}

func iInt(i int64) Instruction {
	return Instruction{Op: OpCreateInt, Int: big.NewInt(i)}
}

func iText(s string) Instruction {
	return Instruction{Op: OpCreateText, Text: s}
}

func iTag(symbol SymbolID) Instruction {
	return Instruction{Op: OpCreateTag, Symbol: symbol}
}

func iBuiltin(b Builtin) Instruction {
	return Instruction{Op: OpCreateBuiltin, Builtin: b}
}

func iLocation(module string) Instruction {
	return Instruction{Op: OpCreateLocation, Location: Location{Module: module}}
}

func iCall(argCount int) Instruction {
	return Instruction{Op: OpCall, ArgCount: argCount}
}

func iReturn() Instruction {
	return Instruction{Op: OpReturn}
}

func iDup(offset int) Instruction {
	return Instruction{Op: OpPushFromStack, Offset: offset}
}

// runEntry executes a fiber over the program's entry until it leaves
// the running state.
func runEntry(t *testing.T, p *Program) *Fiber {
	t.Helper()
	if err := p.Validate(); err != nil {
		t.Fatalf("program does not validate: %v", err)
	}
	f := NewFiberForModule(p, nil)
	f.Run(UnlimitedController{})
	return f
}

// doneResult fails the test unless the fiber finished normally, and
// returns its packed result.
func doneResult(t *testing.T, f *Fiber) Packet {
	t.Helper()
	if f.Status() != FiberDone {
		if f.Status() == FiberPanicked {
			t.Fatalf("fiber panicked: %s", f.PanicReason())
		}
		t.Fatalf("fiber status = %s, want %s", f.Status(), FiberDone)
	}
	return f.Result()
}

// wantPanic fails the test unless the fiber panicked with the reason.
func wantPanic(t *testing.T, f *Fiber, reason string) {
	t.Helper()
	if f.Status() != FiberPanicked {
		t.Fatalf("fiber status = %s, want %s", f.Status(), FiberPanicked)
	}
	if f.PanicReason() != reason {
		t.Errorf("panic reason = %q, want %q", f.PanicReason(), reason)
	}
}

// wantInt checks that a packet holds the given integer.
func wantInt(t *testing.T, p Packet, want int64) {
	t.Helper()
	if !p.Heap.IsInt(p.Value) {
		t.Fatalf("result = %s, want int %d", ToDebugText(p.Heap, p.Value, DebugTextUnlimited), want)
	}
	got, ok := p.Heap.Int64Value(p.Value)
	if !ok || got != want {
		t.Errorf("result = %d (ok=%v), want %d", got, ok, want)
	}
}

// wantText checks that a packet holds the given text.
func wantText(t *testing.T, p Packet, want string) {
	t.Helper()
	if !p.Heap.IsText(p.Value) {
		t.Fatalf("result = %s, want text %q", ToDebugText(p.Heap, p.Value, DebugTextUnlimited), want)
	}
	if got := p.Heap.TextValue(p.Value); got != want {
		t.Errorf("result = %q, want %q", got, want)
	}
}

// wantTag checks that a packet holds a payload-less tag with the
// given symbol name.
func wantTag(t *testing.T, p Packet, symbols *SymbolTable, name string) {
	t.Helper()
	if !p.Heap.IsTag(p.Value) {
		t.Fatalf("result = %s, want tag %s", ToDebugText(p.Heap, p.Value, DebugTextUnlimited), name)
	}
	if got := symbols.Name(p.Heap.TagSymbol(p.Value)); got != name {
		t.Errorf("result tag = %s, want %s", got, name)
	}
}
