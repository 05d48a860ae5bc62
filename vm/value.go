package vm

import "math/big"

// Value represents a Toffee value as a tagged 64-bit word.
//
// The low 3 bits hold the kind tag; the upper 61 bits hold the payload.
// Small integers, payload-less tags, builtins, and channel ports are
// stored entirely inline; everything else lives on a heap and is
// referenced through the pointer kind.
//
// Encoding scheme:
//   - Pointer: heap address (never zero; the high payload bit marks an
//     address in the shared constant heap)
//   - Int: 61-bit signed integer, two's complement
//   - Builtin: builtin function index
//   - Tag: symbol ID of a payload-less tag
//   - SendPort / ReceivePort: channel ID
//
// The zero word is never a valid Value: heap addresses start at 1, so a
// pointer with an empty payload cannot be fabricated.
type Value uint64

// ValueKind distinguishes the inline representations of a Value.
type ValueKind uint8

const (
	KindPointer ValueKind = iota
	KindInt
	KindBuiltin
	KindTag
	KindSendPort
	KindReceivePort
)

const (
	valueKindBits  = 3
	valueKindMask  = (1 << valueKindBits) - 1
	payloadBits    = 64 - valueKindBits
	constantBitPos = payloadBits - 1

	// Inline integers occupy the full 61-bit payload.
	MaxInlineInt = int64(1)<<(payloadBits-1) - 1
	MinInlineInt = -(int64(1) << (payloadBits - 1))
)

// constantAddressBit marks heap addresses that live in the shared
// constant heap rather than in a fiber's own heap.
const constantAddressBit uint64 = 1 << constantBitPos

// Kind returns the inline kind of the value.
func (v Value) Kind() ValueKind {
	return ValueKind(v & valueKindMask)
}

func (v Value) payload() uint64 {
	return uint64(v) >> valueKindBits
}

func makeValue(kind ValueKind, payload uint64) Value {
	return Value(payload<<valueKindBits | uint64(kind))
}

// ---------------------------------------------------------------------------
// Pointers
// ---------------------------------------------------------------------------

// IsPointer reports whether the value references a heap object.
func (v Value) IsPointer() bool { return v.Kind() == KindPointer }

// Address returns the heap address of a pointer value.
func (v Value) Address() uint64 {
	if !v.IsPointer() {
		panic("vm: Address called on non-pointer value")
	}
	return v.payload()
}

// IsConstant reports whether a pointer value references the constant heap.
// Inline values are considered constant as well: they are never counted.
func (v Value) IsConstant() bool {
	return !v.IsPointer() || v.payload()&constantAddressBit != 0
}

func pointerValue(address uint64) Value {
	if address == 0 {
		panic("vm: zero heap address")
	}
	return makeValue(KindPointer, address)
}

// ---------------------------------------------------------------------------
// Inline integers
// ---------------------------------------------------------------------------

// IsInlineInt reports whether the value is an inline integer.
func (v Value) IsInlineInt() bool { return v.Kind() == KindInt }

// InlineIntValue returns the integer stored inline, sign extended.
func (v Value) InlineIntValue() int64 {
	if !v.IsInlineInt() {
		panic("vm: InlineIntValue called on non-int value")
	}
	return int64(v) >> valueKindBits
}

// FitsInline reports whether i can be stored without heap allocation.
func FitsInline(i int64) bool {
	return i >= MinInlineInt && i <= MaxInlineInt
}

func inlineIntValue(i int64) Value {
	return makeValue(KindInt, uint64(i)&(1<<payloadBits-1))
}

var (
	bigMinInline = big.NewInt(MinInlineInt)
	bigMaxInline = big.NewInt(MaxInlineInt)
)

func fitsInlineBig(i *big.Int) bool {
	return i.Cmp(bigMinInline) >= 0 && i.Cmp(bigMaxInline) <= 0
}

// ---------------------------------------------------------------------------
// Builtins
// ---------------------------------------------------------------------------

// IsBuiltin reports whether the value is a builtin function reference.
func (v Value) IsBuiltin() bool { return v.Kind() == KindBuiltin }

// BuiltinValue returns the builtin function the value refers to.
func (v Value) BuiltinValue() Builtin {
	if !v.IsBuiltin() {
		panic("vm: BuiltinValue called on non-builtin value")
	}
	return Builtin(v.payload())
}

// BuiltinToValue returns the inline value for a builtin function.
func BuiltinToValue(b Builtin) Value {
	return makeValue(KindBuiltin, uint64(b))
}

// ---------------------------------------------------------------------------
// Inline tags
// ---------------------------------------------------------------------------

// IsInlineTag reports whether the value is a payload-less tag.
// Tags carrying a payload live on the heap.
func (v Value) IsInlineTag() bool { return v.Kind() == KindTag }

// InlineTagSymbol returns the symbol ID of an inline tag.
func (v Value) InlineTagSymbol() SymbolID {
	if !v.IsInlineTag() {
		panic("vm: InlineTagSymbol called on non-tag value")
	}
	return SymbolID(v.payload())
}

// TagToValue returns the inline value for a payload-less tag.
func TagToValue(symbol SymbolID) Value {
	return makeValue(KindTag, uint64(symbol))
}

// ---------------------------------------------------------------------------
// Channel ports
// ---------------------------------------------------------------------------

// ChannelID identifies a channel within a VM.
type ChannelID uint64

// IsSendPort reports whether the value is the sending end of a channel.
func (v Value) IsSendPort() bool { return v.Kind() == KindSendPort }

// IsReceivePort reports whether the value is the receiving end of a channel.
func (v Value) IsReceivePort() bool { return v.Kind() == KindReceivePort }

// IsPort reports whether the value is either end of a channel.
func (v Value) IsPort() bool { return v.IsSendPort() || v.IsReceivePort() }

// PortChannel returns the channel a port value belongs to.
func (v Value) PortChannel() ChannelID {
	if !v.IsPort() {
		panic("vm: PortChannel called on non-port value")
	}
	return ChannelID(v.payload())
}

// SendPortToValue returns the inline value for a channel's send port.
func SendPortToValue(ch ChannelID) Value {
	return makeValue(KindSendPort, uint64(ch))
}

// ReceivePortToValue returns the inline value for a channel's receive port.
func ReceivePortToValue(ch ChannelID) Value {
	return makeValue(KindReceivePort, uint64(ch))
}
