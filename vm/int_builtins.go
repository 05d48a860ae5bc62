package vm

import (
	"fmt"
	"math/big"
)

// ---------------------------------------------------------------------------
// Integer builtins
// ---------------------------------------------------------------------------

// builtinIntBinary implements the two-argument integer builtins.
// Results are normalized: values that fit the inline range never stay
// on the heap.
func (f *Fiber) builtinIntBinary(b Builtin, args []Value) (Value, string) {
	for _, arg := range args {
		if !f.heap.IsInt(arg) {
			return 0, fmt.Sprintf("`%s` expected an int, but got %s.",
				b, ToDebugText(f.heap, arg, debugTextLimit))
		}
	}
	lhs := f.heap.BigIntValue(args[0])
	rhs := f.heap.BigIntValue(args[1])
	result := new(big.Int)
	switch b {
	case BuiltinIntAdd:
		result.Add(lhs, rhs)
	case BuiltinIntSubtract:
		result.Sub(lhs, rhs)
	case BuiltinIntMultiply:
		result.Mul(lhs, rhs)
	case BuiltinIntDivideTruncating:
		if rhs.Sign() == 0 {
			return 0, "You can't divide by zero."
		}
		result.Quo(lhs, rhs)
	case BuiltinIntRemainder:
		if rhs.Sign() == 0 {
			return 0, "You can't divide by zero."
		}
		result.Rem(lhs, rhs)
	case BuiltinIntModulo:
		if rhs.Sign() == 0 {
			return 0, "You can't divide by zero."
		}
		result.Mod(lhs, rhs)
	case BuiltinIntBitwiseAnd:
		result.And(lhs, rhs)
	case BuiltinIntBitwiseOr:
		result.Or(lhs, rhs)
	case BuiltinIntBitwiseXor:
		result.Xor(lhs, rhs)
	case BuiltinIntCompareTo:
		ordering := f.heap.CreateOrdering(lhs.Cmp(rhs))
		f.heap.DropAll(args)
		return ordering, ""
	case BuiltinIntShiftLeft:
		amount, ok := bigShiftAmount(rhs)
		if !ok {
			return 0, fmt.Sprintf(
				"`%s` expected a non-negative shift amount, but got %s.",
				b, rhs)
		}
		result.Lsh(lhs, amount)
	case BuiltinIntShiftRight:
		amount, ok := bigShiftAmount(rhs)
		if !ok {
			return 0, fmt.Sprintf(
				"`%s` expected a non-negative shift amount, but got %s.",
				b, rhs)
		}
		result.Rsh(lhs, amount)
	default:
		panic("vm: not an integer builtin")
	}
	f.heap.DropAll(args)
	return f.heap.CreateInt(result), ""
}

func bigShiftAmount(amount *big.Int) (uint, bool) {
	if amount.Sign() < 0 || !amount.IsUint64() || amount.Uint64() > 1<<20 {
		return 0, false
	}
	return uint(amount.Uint64()), true
}

func (f *Fiber) builtinIntBitLength(args []Value) (Value, string) {
	if !f.heap.IsInt(args[0]) {
		return 0, fmt.Sprintf("`intBitLength` expected an int, but got %s.",
			ToDebugText(f.heap, args[0], debugTextLimit))
	}
	length := f.heap.BigIntValue(args[0]).BitLen()
	f.heap.Drop(args[0])
	return f.heap.CreateIntFromInt64(int64(length)), ""
}

func (f *Fiber) builtinIntParse(args []Value) (Value, string) {
	if !f.heap.IsText(args[0]) {
		return 0, fmt.Sprintf("`intParse` expected a text, but got %s.",
			ToDebugText(f.heap, args[0], debugTextLimit))
	}
	text := f.heap.TextValue(args[0])
	f.heap.Drop(args[0])
	parsed, ok := new(big.Int).SetString(text, 10)
	if !ok {
		reason := f.heap.CreateText("The text is not a valid integer.")
		return f.heap.CreateError(reason), ""
	}
	return f.heap.CreateOk(f.heap.CreateInt(parsed)), ""
}
