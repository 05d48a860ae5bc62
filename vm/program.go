package vm

import "fmt"

// ---------------------------------------------------------------------------
// Programs
// ---------------------------------------------------------------------------

// Program is an executable image: a flat instruction list, a shared
// constant heap, the interned symbols, and the entry module body.
//
// Module bodies (the entry included) are instruction ranges executed
// on an empty frame and ending in a return instruction whose result is
// the module's exports.
type Program struct {
	Symbols      *SymbolTable
	Constants    *Heap
	Instructions []Instruction
	Entry        CodeRange
	EntryModule  string
	// ModuleBodies maps module names to their body ranges, for
	// use-path imports resolved within this program.
	ModuleBodies map[string]CodeRange
}

// NewProgram creates an empty program with a fresh symbol table and
// constant heap.
func NewProgram() *Program {
	symbols := NewSymbolTable()
	return &Program{
		Symbols:      symbols,
		Constants:    NewConstantHeap(symbols),
		ModuleBodies: make(map[string]CodeRange),
	}
}

// Validate checks the structural invariants an image must satisfy
// before it may be executed: in-bounds ranges, known opcodes and
// builtins, and constant references that resolve.
func (p *Program) Validate() error {
	if err := p.validateRange("entry", p.Entry); err != nil {
		return err
	}
	for module, body := range p.ModuleBodies {
		if err := p.validateRange("module "+module, body); err != nil {
			return err
		}
	}
	for i, in := range p.Instructions {
		if in.Op >= numOpcodes {
			return fmt.Errorf("instruction %d: unknown opcode %d", i, uint8(in.Op))
		}
		switch in.Op {
		case OpCreateInt:
			if in.Int == nil {
				return fmt.Errorf("instruction %d: createInt without a value", i)
			}
		case OpCreateBuiltin:
			if in.Builtin >= NumBuiltins {
				return fmt.Errorf("instruction %d: unknown builtin %d", i, uint8(in.Builtin))
			}
		case OpCreateFunction:
			if err := p.validateRange(fmt.Sprintf("instruction %d body", i), in.Body); err != nil {
				return err
			}
			for _, offset := range in.Captured {
				if offset < 0 {
					return fmt.Errorf("instruction %d: negative capture offset", i)
				}
			}
			if in.ArgCount < 0 {
				return fmt.Errorf("instruction %d: negative argument count", i)
			}
		case OpPushConstant:
			if err := p.validateConstant(i, in.Constant); err != nil {
				return err
			}
		case OpCreateList, OpCreateStruct, OpPopMultipleBelowTop:
			if in.Count < 0 {
				return fmt.Errorf("instruction %d: negative count", i)
			}
		case OpCall, OpTraceCallStarts:
			if in.ArgCount < 0 {
				return fmt.Errorf("instruction %d: negative argument count", i)
			}
		case OpTailCall:
			if in.ArgCount < 0 || in.Count < 0 {
				return fmt.Errorf("instruction %d: negative operand", i)
			}
		case OpPushFromStack:
			if in.Offset < 0 {
				return fmt.Errorf("instruction %d: negative stack offset", i)
			}
		}
	}
	return nil
}

func (p *Program) validateRange(what string, r CodeRange) error {
	if r.Start < 0 || r.End > len(p.Instructions) || r.Start >= r.End {
		return fmt.Errorf("%s: range %s out of bounds (%d instructions)",
			what, r, len(p.Instructions))
	}
	return nil
}

func (p *Program) validateConstant(i int, v Value) error {
	if v == 0 {
		return fmt.Errorf("instruction %d: zero constant", i)
	}
	if !v.IsPointer() {
		return nil
	}
	if !v.IsConstant() {
		return fmt.Errorf("instruction %d: constant references a non-constant address", i)
	}
	if p.Constants == nil {
		return fmt.Errorf("instruction %d: constant reference without a constant heap", i)
	}
	if _, ok := p.Constants.objects[v.Address()]; !ok {
		return fmt.Errorf("instruction %d: dangling constant address %#x", i, v.Address())
	}
	return nil
}
