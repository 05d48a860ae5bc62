package vm

import (
	"fmt"
	"math/big"
	"strings"
)

// ---------------------------------------------------------------------------
// Bytecode
// ---------------------------------------------------------------------------

// Opcode identifies an instruction.
type Opcode uint8

const (
	// Value creation
	OpCreateInt Opcode = iota // push an integer immediate
	OpCreateText              // push a text immediate
	OpCreateTag               // push a tag; pops the payload if HasValue
	OpCreateBuiltin           // push a builtin function reference
	OpCreateLocation          // push a source location
	OpCreateList              // pop Count items, push a list
	OpCreateStruct            // pop Count key/value pairs, push a struct
	OpCreateFunction          // capture stack values, push a function
	OpPushConstant            // push a constant-heap value

	// Stack manipulation
	OpPushFromStack       // push a copy of the value Offset below the top
	OpPopMultipleBelowTop // pop Count values below the top, keeping the top

	// Control flow
	OpCall     // call with ArgCount arguments
	OpTailCall // drop Count locals, then call without a return address
	OpReturn   // return to the caller
	OpPanic    // pop responsible and reason, panic the fiber

	// Modules
	OpUseModule    // pop responsible and a path text, import a module
	OpModuleStarts // mark a module body start (import-cycle check)
	OpModuleEnds   // mark a module body end

	// Tracing
	OpTraceCallStarts            // report a call with ArgCount arguments
	OpTraceCallEnds              // report the call's return value
	OpTraceExpressionEvaluated   // report an evaluated expression
	OpTraceFoundFuzzableFunction // report a fuzzable function definition

	numOpcodes
)

var opcodeNames = [numOpcodes]string{
	"createInt", "createText", "createTag", "createBuiltin",
	"createLocation", "createList", "createStruct", "createFunction",
	"pushConstant", "pushFromStack", "popMultipleBelowTop", "call",
	"tailCall", "return", "panic", "useModule", "moduleStarts",
	"moduleEnds", "traceCallStarts", "traceCallEnds",
	"traceExpressionEvaluated", "traceFoundFuzzableFunction",
}

func (op Opcode) String() string {
	if op >= numOpcodes {
		return fmt.Sprintf("opcode(%d)", uint8(op))
	}
	return opcodeNames[op]
}

// Instruction is a single bytecode instruction. Only the operand
// fields relevant for the opcode are populated.
type Instruction struct {
	Op Opcode

	Int      *big.Int  // createInt
	Text     string    // createText; useModule, moduleStarts: module name
	Symbol   SymbolID  // createTag
	HasValue bool      // createTag: pops the payload from the stack
	Builtin  Builtin   // createBuiltin
	Constant Value     // pushConstant
	Location Location  // createLocation
	Captured []int     // createFunction: stack offsets of captured values
	ArgCount int       // createFunction, call, tailCall, traceCallStarts
	Body     CodeRange // createFunction
	Offset   int       // pushFromStack: 0 is the top of the stack
	Count    int       // createList, createStruct, popMultipleBelowTop;
	//                    tailCall: locals to pop below the call operands
}

// String renders the instruction for disassembly output.
func (in Instruction) String() string {
	var b strings.Builder
	b.WriteString(in.Op.String())
	switch in.Op {
	case OpCreateInt:
		fmt.Fprintf(&b, " %s", in.Int)
	case OpCreateText:
		fmt.Fprintf(&b, " %q", in.Text)
	case OpCreateTag:
		fmt.Fprintf(&b, " symbol:%d hasValue:%t", in.Symbol, in.HasValue)
	case OpCreateBuiltin:
		fmt.Fprintf(&b, " %s", in.Builtin)
	case OpCreateLocation:
		fmt.Fprintf(&b, " %s", in.Location)
	case OpCreateList, OpCreateStruct, OpPopMultipleBelowTop:
		fmt.Fprintf(&b, " %d", in.Count)
	case OpCreateFunction:
		fmt.Fprintf(&b, " captured:%v args:%d body:%s", in.Captured, in.ArgCount, in.Body)
	case OpPushConstant:
		fmt.Fprintf(&b, " %#x", uint64(in.Constant))
	case OpPushFromStack:
		fmt.Fprintf(&b, " %d", in.Offset)
	case OpCall, OpTraceCallStarts:
		fmt.Fprintf(&b, " args:%d", in.ArgCount)
	case OpTailCall:
		fmt.Fprintf(&b, " pop:%d args:%d", in.Count, in.ArgCount)
	case OpUseModule, OpModuleStarts:
		fmt.Fprintf(&b, " %q", in.Text)
	}
	return b.String()
}

// CodeRange is a half-open range of instruction indices.
type CodeRange struct {
	Start int
	End   int
}

func (r CodeRange) Len() int { return r.End - r.Start }

func (r CodeRange) Contains(ip int) bool { return ip >= r.Start && ip < r.End }

func (r CodeRange) String() string {
	return fmt.Sprintf("[%d..%d)", r.Start, r.End)
}

// Location identifies a source expression: the module it lives in and
// the path of definition keys leading to it. Locations serve as the
// "responsible" argument of calls and panics and as trace call sites.
type Location struct {
	Module string
	Path   []string
}

// Equal reports whether two locations name the same expression.
func (l Location) Equal(other Location) bool {
	if l.Module != other.Module || len(l.Path) != len(other.Path) {
		return false
	}
	for i := range l.Path {
		if l.Path[i] != other.Path[i] {
			return false
		}
	}
	return true
}

func (l Location) String() string {
	if len(l.Path) == 0 {
		return l.Module
	}
	return l.Module + ":" + strings.Join(l.Path, ".")
}
