package vm

import "fmt"

// ---------------------------------------------------------------------------
// Builtin functions
// ---------------------------------------------------------------------------

// Builtin identifies a natively implemented function. Builtin values
// are inline; calling one dispatches through runBuiltin.
type Builtin uint8

const (
	BuiltinEquals Builtin = iota
	BuiltinFunctionRun
	BuiltinGetArgumentCount
	BuiltinIfElse
	BuiltinIntAdd
	BuiltinIntBitLength
	BuiltinIntBitwiseAnd
	BuiltinIntBitwiseOr
	BuiltinIntBitwiseXor
	BuiltinIntCompareTo
	BuiltinIntDivideTruncating
	BuiltinIntModulo
	BuiltinIntMultiply
	BuiltinIntParse
	BuiltinIntRemainder
	BuiltinIntShiftLeft
	BuiltinIntShiftRight
	BuiltinIntSubtract
	BuiltinListFilled
	BuiltinListGet
	BuiltinListInsert
	BuiltinListLength
	BuiltinListRemoveAt
	BuiltinListReplace
	BuiltinPrint
	BuiltinStructGet
	BuiltinStructGetKeys
	BuiltinStructHasKey
	BuiltinTagGetValue
	BuiltinTagHasValue
	BuiltinTagWithoutValue
	BuiltinTextCharacters
	BuiltinTextConcatenate
	BuiltinTextContains
	BuiltinTextEndsWith
	BuiltinTextFromUtf8
	BuiltinTextGetRange
	BuiltinTextIsEmpty
	BuiltinTextLength
	BuiltinTextStartsWith
	BuiltinTextTrimEnd
	BuiltinTextTrimStart
	BuiltinToDebugText
	BuiltinTry
	BuiltinTypeOf
	BuiltinChannelCreate
	BuiltinChannelSend
	BuiltinChannelReceive
	BuiltinParallel

	NumBuiltins
)

type builtinInfo struct {
	name  string
	arity int
	pure  bool
}

// builtinTable holds per-builtin metadata. Pure builtins are
// referentially transparent; an external optimizer may elide or
// memoize them. Impure ones have observable effects or diverge
// control flow and must never be removed.
var builtinTable = [NumBuiltins]builtinInfo{
	BuiltinEquals:              {"equals", 2, true},
	BuiltinFunctionRun:         {"functionRun", 1, false},
	BuiltinGetArgumentCount:    {"getArgumentCount", 1, true},
	BuiltinIfElse:              {"ifElse", 3, false},
	BuiltinIntAdd:              {"intAdd", 2, true},
	BuiltinIntBitLength:        {"intBitLength", 1, true},
	BuiltinIntBitwiseAnd:       {"intBitwiseAnd", 2, true},
	BuiltinIntBitwiseOr:        {"intBitwiseOr", 2, true},
	BuiltinIntBitwiseXor:       {"intBitwiseXor", 2, true},
	BuiltinIntCompareTo:        {"intCompareTo", 2, true},
	BuiltinIntDivideTruncating: {"intDivideTruncating", 2, true},
	BuiltinIntModulo:           {"intModulo", 2, true},
	BuiltinIntMultiply:         {"intMultiply", 2, true},
	BuiltinIntParse:            {"intParse", 1, true},
	BuiltinIntRemainder:        {"intRemainder", 2, true},
	BuiltinIntShiftLeft:        {"intShiftLeft", 2, true},
	BuiltinIntShiftRight:       {"intShiftRight", 2, true},
	BuiltinIntSubtract:         {"intSubtract", 2, true},
	BuiltinListFilled:          {"listFilled", 2, true},
	BuiltinListGet:             {"listGet", 2, true},
	BuiltinListInsert:          {"listInsert", 3, true},
	BuiltinListLength:          {"listLength", 1, true},
	BuiltinListRemoveAt:        {"listRemoveAt", 2, true},
	BuiltinListReplace:         {"listReplace", 3, true},
	BuiltinPrint:               {"print", 1, false},
	BuiltinStructGet:           {"structGet", 2, true},
	BuiltinStructGetKeys:       {"structGetKeys", 1, true},
	BuiltinStructHasKey:        {"structHasKey", 2, true},
	BuiltinTagGetValue:         {"tagGetValue", 1, true},
	BuiltinTagHasValue:         {"tagHasValue", 1, true},
	BuiltinTagWithoutValue:     {"tagWithoutValue", 1, true},
	BuiltinTextCharacters:      {"textCharacters", 1, true},
	BuiltinTextConcatenate:     {"textConcatenate", 2, true},
	BuiltinTextContains:        {"textContains", 2, true},
	BuiltinTextEndsWith:        {"textEndsWith", 2, true},
	BuiltinTextFromUtf8:        {"textFromUtf8", 1, true},
	BuiltinTextGetRange:        {"textGetRange", 3, true},
	BuiltinTextIsEmpty:         {"textIsEmpty", 1, true},
	BuiltinTextLength:          {"textLength", 1, true},
	BuiltinTextStartsWith:      {"textStartsWith", 2, true},
	BuiltinTextTrimEnd:         {"textTrimEnd", 1, true},
	BuiltinTextTrimStart:       {"textTrimStart", 1, true},
	BuiltinToDebugText:         {"toDebugText", 1, true},
	BuiltinTry:                 {"try", 1, false},
	BuiltinTypeOf:              {"typeOf", 1, true},
	BuiltinChannelCreate:       {"channelCreate", 1, false},
	BuiltinChannelSend:         {"channelSend", 2, false},
	BuiltinChannelReceive:      {"channelReceive", 1, false},
	BuiltinParallel:            {"parallel", 1, false},
}

func (b Builtin) String() string {
	if b >= NumBuiltins {
		return fmt.Sprintf("builtin(%d)", uint8(b))
	}
	return builtinTable[b].name
}

// Arity returns the number of arguments the builtin expects.
func (b Builtin) Arity() int { return builtinTable[b].arity }

// IsPure reports whether the builtin is referentially transparent.
func (b Builtin) IsPure() bool { return builtinTable[b].pure }

// BuiltinByName returns the builtin with the given name.
func BuiltinByName(name string) (Builtin, bool) {
	for b := Builtin(0); b < NumBuiltins; b++ {
		if builtinTable[b].name == name {
			return b, true
		}
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

// runBuiltin executes a builtin call. The arguments and the
// responsible value are owned by the call.
//
// Most builtins compute a value which is pushed in place of the call.
// Control-flow builtins (functionRun, ifElse) divert into a function
// call instead; a tail call to them stays a tail call. Channel, try,
// and parallel builtins park the fiber for the scheduler.
func (f *Fiber) runBuiltin(b Builtin, args []Value, responsible Value, tail bool) {
	info := builtinTable[b]
	if len(args) != info.arity {
		location := f.responsibleLocation(responsible)
		f.heap.DropAll(args)
		f.heap.Drop(responsible)
		f.panic(fmt.Sprintf(
			"`%s` expected %d arguments, but you called it with %d.",
			info.name, info.arity, len(args)), location)
		return
	}

	// Builtins that divert control flow or park the fiber handle
	// their operands themselves.
	switch b {
	case BuiltinFunctionRun:
		f.builtinFunctionRun(args, responsible, tail)
		return
	case BuiltinIfElse:
		f.builtinIfElse(args, responsible, tail)
		return
	case BuiltinTry:
		f.pendingTailReturn = tail
		f.builtinTry(args, responsible)
		return
	case BuiltinParallel:
		f.pendingTailReturn = tail
		f.builtinParallel(args, responsible)
		return
	case BuiltinChannelCreate:
		f.pendingTailReturn = tail
		f.builtinChannelCreate(args, responsible)
		return
	case BuiltinChannelSend:
		f.pendingTailReturn = tail
		f.builtinChannelSend(args, responsible)
		return
	case BuiltinChannelReceive:
		f.pendingTailReturn = tail
		f.builtinChannelReceive(args, responsible)
		return
	}

	// Value-producing builtins: on success the implementation consumed
	// the arguments and returned the result; on failure it consumed
	// nothing and returned a panic reason.
	result, reason := f.callValueBuiltin(b, args)
	if reason != "" {
		location := f.responsibleLocation(responsible)
		f.heap.DropAll(args)
		f.heap.Drop(responsible)
		f.panic(reason, location)
		return
	}
	f.heap.Drop(responsible)
	f.push(result)
	if tail {
		f.ret()
	}
}

func (f *Fiber) callValueBuiltin(b Builtin, args []Value) (Value, string) {
	switch b {
	case BuiltinEquals:
		return f.builtinEquals(args)
	case BuiltinGetArgumentCount:
		return f.builtinGetArgumentCount(args)
	case BuiltinIntAdd, BuiltinIntBitwiseAnd, BuiltinIntBitwiseOr,
		BuiltinIntBitwiseXor, BuiltinIntCompareTo,
		BuiltinIntDivideTruncating, BuiltinIntModulo, BuiltinIntMultiply,
		BuiltinIntRemainder, BuiltinIntShiftLeft, BuiltinIntShiftRight,
		BuiltinIntSubtract:
		return f.builtinIntBinary(b, args)
	case BuiltinIntBitLength:
		return f.builtinIntBitLength(args)
	case BuiltinIntParse:
		return f.builtinIntParse(args)
	case BuiltinListFilled:
		return f.builtinListFilled(args)
	case BuiltinListGet:
		return f.builtinListGet(args)
	case BuiltinListInsert:
		return f.builtinListInsert(args)
	case BuiltinListLength:
		return f.builtinListLength(args)
	case BuiltinListRemoveAt:
		return f.builtinListRemoveAt(args)
	case BuiltinListReplace:
		return f.builtinListReplace(args)
	case BuiltinPrint:
		return f.builtinPrint(args)
	case BuiltinStructGet:
		return f.builtinStructGet(args)
	case BuiltinStructGetKeys:
		return f.builtinStructGetKeys(args)
	case BuiltinStructHasKey:
		return f.builtinStructHasKey(args)
	case BuiltinTagGetValue:
		return f.builtinTagGetValue(args)
	case BuiltinTagHasValue:
		return f.builtinTagHasValue(args)
	case BuiltinTagWithoutValue:
		return f.builtinTagWithoutValue(args)
	case BuiltinTextCharacters:
		return f.builtinTextCharacters(args)
	case BuiltinTextConcatenate:
		return f.builtinTextConcatenate(args)
	case BuiltinTextContains:
		return f.builtinTextContains(args)
	case BuiltinTextEndsWith:
		return f.builtinTextEndsWith(args)
	case BuiltinTextFromUtf8:
		return f.builtinTextFromUtf8(args)
	case BuiltinTextGetRange:
		return f.builtinTextGetRange(args)
	case BuiltinTextIsEmpty:
		return f.builtinTextIsEmpty(args)
	case BuiltinTextLength:
		return f.builtinTextLength(args)
	case BuiltinTextStartsWith:
		return f.builtinTextStartsWith(args)
	case BuiltinTextTrimEnd:
		return f.builtinTextTrimEnd(args)
	case BuiltinTextTrimStart:
		return f.builtinTextTrimStart(args)
	case BuiltinToDebugText:
		return f.builtinToDebugText(args)
	case BuiltinTypeOf:
		return f.builtinTypeOf(args)
	default:
		panic(fmt.Sprintf("vm: builtin %s not implemented", b))
	}
}

// ---------------------------------------------------------------------------
// Core builtins
// ---------------------------------------------------------------------------

func (f *Fiber) builtinEquals(args []Value) (Value, string) {
	equal := f.heap.Equals(args[0], args[1])
	f.heap.DropAll(args)
	return f.heap.CreateBool(equal), ""
}

func (f *Fiber) builtinGetArgumentCount(args []Value) (Value, string) {
	switch {
	case f.heap.IsFunction(args[0]):
		count := f.heap.FunctionArgCount(args[0])
		f.heap.Drop(args[0])
		return f.heap.CreateIntFromInt64(int64(count)), ""
	case args[0].IsBuiltin():
		return f.heap.CreateIntFromInt64(int64(args[0].BuiltinValue().Arity())), ""
	default:
		return 0, fmt.Sprintf(
			"`getArgumentCount` expected a function, but got %s.",
			ToDebugText(f.heap, args[0], debugTextLimit))
	}
}

func (f *Fiber) builtinFunctionRun(args []Value, responsible Value, tail bool) {
	if !f.isCallable(args[0]) {
		f.builtinArgumentPanic(BuiltinFunctionRun, args, responsible,
			"a function", args[0])
		return
	}
	f.startCall(args[0], nil, responsible, tail)
}

func (f *Fiber) builtinIfElse(args []Value, responsible Value, tail bool) {
	condition, thenBody, elseBody := args[0], args[1], args[2]
	if !f.heap.IsBool(condition) {
		f.builtinArgumentPanic(BuiltinIfElse, args, responsible,
			"True or False", condition)
		return
	}
	if !f.isCallable(thenBody) {
		f.builtinArgumentPanic(BuiltinIfElse, args, responsible,
			"a function", thenBody)
		return
	}
	if !f.isCallable(elseBody) {
		f.builtinArgumentPanic(BuiltinIfElse, args, responsible,
			"a function", elseBody)
		return
	}
	chosen, discarded := thenBody, elseBody
	if !f.heap.BoolValue(condition) {
		chosen, discarded = elseBody, thenBody
	}
	f.heap.Drop(condition)
	f.heap.Drop(discarded)
	f.startCall(chosen, nil, responsible, tail)
}

func (f *Fiber) builtinPrint(args []Value) (Value, string) {
	if !f.heap.IsText(args[0]) {
		return 0, fmt.Sprintf("`print` expected a text, but got %s.",
			ToDebugText(f.heap, args[0], debugTextLimit))
	}
	message := f.heap.TextValue(args[0])
	f.heap.Drop(args[0])
	if f.printer != nil {
		f.printer(message)
	}
	return f.heap.Nothing(), ""
}

func (f *Fiber) builtinToDebugText(args []Value) (Value, string) {
	text := ToDebugText(f.heap, args[0], DebugTextUnlimited)
	f.heap.Drop(args[0])
	return f.heap.CreateText(text), ""
}

func (f *Fiber) builtinTypeOf(args []Value) (Value, string) {
	symbol := f.heap.TypeSymbol(args[0])
	f.heap.Drop(args[0])
	return TagToValue(symbol), ""
}

// ---------------------------------------------------------------------------
// Parking builtins: try, parallel, channels
// ---------------------------------------------------------------------------

func (f *Fiber) builtinTry(args []Value, responsible Value) {
	if !f.heap.IsFunction(args[0]) || f.heap.FunctionArgCount(args[0]) != 0 {
		f.builtinArgumentPanic(BuiltinTry, args, responsible,
			"a function without parameters", args[0])
		return
	}
	f.heap.Drop(responsible)
	f.scopeBody = args[0]
	f.status = FiberInTry
}

func (f *Fiber) builtinParallel(args []Value, responsible Value) {
	if !f.heap.IsFunction(args[0]) || f.heap.FunctionArgCount(args[0]) != 1 {
		f.builtinArgumentPanic(BuiltinParallel, args, responsible,
			"a function taking a nursery", args[0])
		return
	}
	f.heap.Drop(responsible)
	f.scopeBody = args[0]
	f.status = FiberInParallelScope
}

func (f *Fiber) builtinChannelCreate(args []Value, responsible Value) {
	capacity, ok := f.intArgument(args[0])
	if !ok || capacity < 0 {
		f.builtinArgumentPanic(BuiltinChannelCreate, args, responsible,
			"a non-negative capacity", args[0])
		return
	}
	f.heap.Drop(args[0])
	f.heap.Drop(responsible)
	f.pendingCapacity = int(capacity)
	f.status = FiberCreatingChannel
}

func (f *Fiber) builtinChannelSend(args []Value, responsible Value) {
	port, value := args[0], args[1]
	if !port.IsSendPort() {
		f.builtinArgumentPanic(BuiltinChannelSend, args, responsible,
			"a send port", port)
		return
	}
	packet := PacketFrom(f.heap, value)
	f.heap.Drop(value)
	f.heap.Drop(responsible)
	// The port stays owned until the send completes so the channel
	// cannot be destroyed under a parked sender.
	f.pendingChannel = port.PortChannel()
	f.pendingPort = port
	f.pendingPacket = packet
	f.status = FiberSending
}

func (f *Fiber) builtinChannelReceive(args []Value, responsible Value) {
	port := args[0]
	if !port.IsReceivePort() {
		f.builtinArgumentPanic(BuiltinChannelReceive, args, responsible,
			"a receive port", port)
		return
	}
	f.heap.Drop(responsible)
	f.pendingChannel = port.PortChannel()
	f.pendingPort = port
	f.status = FiberReceiving
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (f *Fiber) isCallable(v Value) bool {
	return v.IsBuiltin() || f.heap.IsFunction(v)
}

// intArgument extracts an int64 from an int value of either
// representation.
func (f *Fiber) intArgument(v Value) (int64, bool) {
	if !f.heap.IsInt(v) {
		return 0, false
	}
	return f.heap.Int64Value(v)
}

func (f *Fiber) builtinArgumentPanic(b Builtin, args []Value, responsible Value, expected string, got Value) {
	location := f.responsibleLocation(responsible)
	rendered := ToDebugText(f.heap, got, debugTextLimit)
	f.heap.DropAll(args)
	f.heap.Drop(responsible)
	f.panic(fmt.Sprintf("`%s` expected %s, but got %s.",
		b, expected, rendered), location)
}
