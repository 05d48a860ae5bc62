package vm

import "math/big"

// ---------------------------------------------------------------------------
// Heap objects
// ---------------------------------------------------------------------------

// ObjectKind discriminates heap object payloads. It is stored in the low
// 3 bits of the header word.
type ObjectKind uint8

const (
	ObjectInt ObjectKind = iota
	ObjectTag
	ObjectText
	ObjectList
	ObjectStruct
	ObjectFunction
	ObjectLocation
)

func (k ObjectKind) String() string {
	switch k {
	case ObjectInt:
		return "Int"
	case ObjectTag:
		return "Tag"
	case ObjectText:
		return "Text"
	case ObjectList:
		return "List"
	case ObjectStruct:
		return "Struct"
	case ObjectFunction:
		return "Function"
	case ObjectLocation:
		return "Location"
	default:
		panic("vm: unknown object kind")
	}
}

// Header word layout:
//   - bits 0..2: ObjectKind
//   - bit 3:     reference-counted flag (clear for constant-heap objects)
//   - bits 4..:  kind-specific length (list items, struct fields,
//     captured values)
const (
	headerKindMask       = 0b111
	headerRefCountedFlag = 1 << 3
	headerLenShift       = 4
)

func makeHeader(kind ObjectKind, refCounted bool, length int) uint64 {
	h := uint64(kind) | uint64(length)<<headerLenShift
	if refCounted {
		h |= headerRefCountedFlag
	}
	return h
}

// object is a heap-allocated value. The header and reference count are
// the uniform prefix; the remaining fields are the kind-specific
// payload, discriminated by the header's kind bits.
type object struct {
	header   uint64
	refCount uint64

	big      *big.Int // ObjectInt
	text     string   // ObjectText
	symbol   SymbolID // ObjectTag
	tagValue Value    // ObjectTag payload
	items    []Value  // ObjectList items, ObjectFunction captured
	hashes   []uint64 // ObjectStruct, sorted
	keys     []Value  // ObjectStruct, same order as hashes
	values   []Value  // ObjectStruct, same order as hashes
	argCount int      // ObjectFunction
	body     CodeRange // ObjectFunction
	location Location // ObjectLocation
}

func (o *object) kind() ObjectKind {
	return ObjectKind(o.header & headerKindMask)
}

func (o *object) isRefCounted() bool {
	return o.header&headerRefCountedFlag != 0
}

func (o *object) length() int {
	return int(o.header >> headerLenShift)
}

// appendChildren collects the values the object owns a reference to.
func (o *object) appendChildren(dst []Value) []Value {
	switch o.kind() {
	case ObjectInt, ObjectText, ObjectLocation:
		return dst
	case ObjectTag:
		return append(dst, o.tagValue)
	case ObjectList, ObjectFunction:
		return append(dst, o.items...)
	case ObjectStruct:
		dst = append(dst, o.keys...)
		return append(dst, o.values...)
	default:
		panic("vm: unknown object kind")
	}
}

// ---------------------------------------------------------------------------
// Creation
// ---------------------------------------------------------------------------

// CreateInt allocates an integer value, storing it inline when it fits.
// The big value is not retained; heap ints copy it.
func (h *Heap) CreateInt(i *big.Int) Value {
	if fitsInlineBig(i) {
		return inlineIntValue(i.Int64())
	}
	return h.allocate(&object{
		header: makeHeader(ObjectInt, true, 0),
		big:    new(big.Int).Set(i),
	})
}

// CreateIntFromInt64 allocates an integer value from a native int64.
func (h *Heap) CreateIntFromInt64(i int64) Value {
	if FitsInline(i) {
		return inlineIntValue(i)
	}
	return h.allocate(&object{
		header: makeHeader(ObjectInt, true, 0),
		big:    big.NewInt(i),
	})
}

// CreateText allocates a text value.
func (h *Heap) CreateText(s string) Value {
	return h.allocate(&object{
		header: makeHeader(ObjectText, true, 0),
		text:   s,
	})
}

// CreateTag returns the inline value for a payload-less tag.
func (h *Heap) CreateTag(symbol SymbolID) Value {
	return TagToValue(symbol)
}

// CreateTagWithValue allocates a tag carrying a payload. Ownership of
// the payload transfers to the tag.
func (h *Heap) CreateTagWithValue(symbol SymbolID, value Value) Value {
	return h.allocate(&object{
		header:   makeHeader(ObjectTag, true, 0),
		symbol:   symbol,
		tagValue: value,
	})
}

// CreateList allocates a list. Ownership of the items transfers to the
// list; the slice itself is retained.
func (h *Heap) CreateList(items []Value) Value {
	return h.allocate(&object{
		header: makeHeader(ObjectList, true, len(items)),
		items:  items,
	})
}

// CreateFunction allocates a function object closing over the captured
// values. Ownership of the captured values transfers to the function.
func (h *Heap) CreateFunction(captured []Value, argCount int, body CodeRange) Value {
	return h.allocate(&object{
		header:   makeHeader(ObjectFunction, true, len(captured)),
		items:    captured,
		argCount: argCount,
		body:     body,
	})
}

// CreateLocation allocates a source location value.
func (h *Heap) CreateLocation(loc Location) Value {
	return h.allocate(&object{
		header:   makeHeader(ObjectLocation, true, 0),
		location: loc,
	})
}

// CreateBool returns the True or False tag.
func (h *Heap) CreateBool(b bool) Value {
	if b {
		return TagToValue(SymbolTrue)
	}
	return TagToValue(SymbolFalse)
}

// Nothing returns the Nothing tag.
func (h *Heap) Nothing() Value {
	return TagToValue(SymbolNothing)
}

// CreateOk wraps a value in an Ok tag, taking ownership of it.
func (h *Heap) CreateOk(value Value) Value {
	return h.CreateTagWithValue(SymbolOk, value)
}

// CreateError wraps a value in an Error tag, taking ownership of it.
func (h *Heap) CreateError(value Value) Value {
	return h.CreateTagWithValue(SymbolError, value)
}

// CreateOrdering maps a comparison result to Less, Equal, or Greater.
func (h *Heap) CreateOrdering(cmp int) Value {
	switch {
	case cmp < 0:
		return TagToValue(SymbolLess)
	case cmp > 0:
		return TagToValue(SymbolGreater)
	default:
		return TagToValue(SymbolEqual)
	}
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// IsInt reports whether the value is an integer, inline or heap.
func (h *Heap) IsInt(v Value) bool {
	return v.IsInlineInt() || (v.IsPointer() && h.lookup(v).kind() == ObjectInt)
}

// BigIntValue returns the integer as a big.Int. The result must not be
// mutated when it aliases a heap object's storage.
func (h *Heap) BigIntValue(v Value) *big.Int {
	if v.IsInlineInt() {
		return big.NewInt(v.InlineIntValue())
	}
	o := h.lookup(v)
	if o.kind() != ObjectInt {
		panic("vm: BigIntValue called on non-int value")
	}
	return o.big
}

// Int64Value returns the integer as an int64 if it fits.
func (h *Heap) Int64Value(v Value) (int64, bool) {
	if v.IsInlineInt() {
		return v.InlineIntValue(), true
	}
	o := h.lookup(v)
	if o.kind() != ObjectInt {
		panic("vm: Int64Value called on non-int value")
	}
	if o.big.IsInt64() {
		return o.big.Int64(), true
	}
	return 0, false
}

// IsText reports whether the value is a text.
func (h *Heap) IsText(v Value) bool {
	return v.IsPointer() && h.lookup(v).kind() == ObjectText
}

// TextValue returns the string content of a text value.
func (h *Heap) TextValue(v Value) string {
	o := h.lookup(v)
	if o.kind() != ObjectText {
		panic("vm: TextValue called on non-text value")
	}
	return o.text
}

// IsTag reports whether the value is a tag, with or without a payload.
func (h *Heap) IsTag(v Value) bool {
	return v.IsInlineTag() || (v.IsPointer() && h.lookup(v).kind() == ObjectTag)
}

// TagSymbol returns the symbol of a tag value.
func (h *Heap) TagSymbol(v Value) SymbolID {
	if v.IsInlineTag() {
		return v.InlineTagSymbol()
	}
	o := h.lookup(v)
	if o.kind() != ObjectTag {
		panic("vm: TagSymbol called on non-tag value")
	}
	return o.symbol
}

// TagValue returns the payload of a tag and whether it has one.
func (h *Heap) TagValue(v Value) (Value, bool) {
	if v.IsInlineTag() {
		return 0, false
	}
	o := h.lookup(v)
	if o.kind() != ObjectTag {
		panic("vm: TagValue called on non-tag value")
	}
	return o.tagValue, true
}

// IsList reports whether the value is a list.
func (h *Heap) IsList(v Value) bool {
	return v.IsPointer() && h.lookup(v).kind() == ObjectList
}

// ListItems returns the items of a list. The slice is owned by the
// list and must not be mutated.
func (h *Heap) ListItems(v Value) []Value {
	o := h.lookup(v)
	if o.kind() != ObjectList {
		panic("vm: ListItems called on non-list value")
	}
	return o.items
}

// IsFunction reports whether the value is a function object.
func (h *Heap) IsFunction(v Value) bool {
	return v.IsPointer() && h.lookup(v).kind() == ObjectFunction
}

// FunctionArgCount returns the number of parameters of a function.
func (h *Heap) FunctionArgCount(v Value) int {
	o := h.lookup(v)
	if o.kind() != ObjectFunction {
		panic("vm: FunctionArgCount called on non-function value")
	}
	return o.argCount
}

// FunctionCaptured returns the captured values of a function. The
// slice is owned by the function and must not be mutated.
func (h *Heap) FunctionCaptured(v Value) []Value {
	o := h.lookup(v)
	if o.kind() != ObjectFunction {
		panic("vm: FunctionCaptured called on non-function value")
	}
	return o.items
}

// FunctionBody returns the instruction range of a function's body.
func (h *Heap) FunctionBody(v Value) CodeRange {
	o := h.lookup(v)
	if o.kind() != ObjectFunction {
		panic("vm: FunctionBody called on non-function value")
	}
	return o.body
}

// IsLocation reports whether the value is a source location.
func (h *Heap) IsLocation(v Value) bool {
	return v.IsPointer() && h.lookup(v).kind() == ObjectLocation
}

// LocationValue returns the source location the value wraps.
func (h *Heap) LocationValue(v Value) Location {
	o := h.lookup(v)
	if o.kind() != ObjectLocation {
		panic("vm: LocationValue called on non-location value")
	}
	return o.location
}

// IsBool reports whether the value is the True or False tag.
func (h *Heap) IsBool(v Value) bool {
	return v.IsInlineTag() &&
		(v.InlineTagSymbol() == SymbolTrue || v.InlineTagSymbol() == SymbolFalse)
}

// BoolValue returns the Go bool for a True or False tag.
func (h *Heap) BoolValue(v Value) bool {
	if !h.IsBool(v) {
		panic("vm: BoolValue called on non-bool value")
	}
	return v.InlineTagSymbol() == SymbolTrue
}

// TypeSymbol returns the type tag symbol for a value, as yielded by the
// typeOf builtin.
func (h *Heap) TypeSymbol(v Value) SymbolID {
	switch v.Kind() {
	case KindInt:
		return SymbolInt
	case KindBuiltin:
		return SymbolBuiltin
	case KindTag:
		return SymbolTag
	case KindSendPort:
		return SymbolSendPort
	case KindReceivePort:
		return SymbolReceivePort
	case KindPointer:
		switch h.lookup(v).kind() {
		case ObjectInt:
			return SymbolInt
		case ObjectTag:
			return SymbolTag
		case ObjectText:
			return SymbolText
		case ObjectList:
			return SymbolList
		case ObjectStruct:
			return SymbolStruct
		case ObjectFunction:
			return SymbolFunction
		case ObjectLocation:
			return SymbolTag
		}
	}
	panic("vm: unknown value kind")
}
