package vm

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Program images
// ---------------------------------------------------------------------------
//
// A program image is a 4-byte magic header followed by a canonical
// CBOR document: symbol table, constant object table, instruction
// list, and the module ranges. Constant objects are ordered so that
// every reference points to an earlier entry, which lets the reader
// rebuild the constant heap in one pass.

// ImageMagic prefixes every serialized program.
const ImageMagic = "TFB\x01"

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type wireImage struct {
	Symbols      []string             `cbor:"symbols"`
	Constants    []wireConstant       `cbor:"constants"`
	Instructions []wireInstruction    `cbor:"instructions"`
	Entry        wireRange            `cbor:"entry"`
	EntryModule  string               `cbor:"entryModule"`
	Modules      map[string]wireRange `cbor:"modules,omitempty"`
}

type wireRange struct {
	Start int `cbor:"start"`
	End   int `cbor:"end"`
}

// wireValue is a serialized Value. Pointers carry a constant table
// index; ports are runtime-only and never serialized.
type wireValue struct {
	Kind    uint8  `cbor:"kind"`
	Payload uint64 `cbor:"payload"`
}

type wireConstant struct {
	Kind     uint8        `cbor:"kind"`
	Int      *big.Int     `cbor:"int,omitempty"`
	Text     string       `cbor:"text,omitempty"`
	Symbol   uint32       `cbor:"symbol,omitempty"`
	Value    *wireValue   `cbor:"value,omitempty"`
	Items    []wireValue  `cbor:"items,omitempty"`
	Keys     []wireValue  `cbor:"keys,omitempty"`
	Values   []wireValue  `cbor:"values,omitempty"`
	ArgCount int          `cbor:"argCount,omitempty"`
	Body     wireRange    `cbor:"body,omitempty"`
	Module   string       `cbor:"module,omitempty"`
	Path     []string     `cbor:"path,omitempty"`
}

type wireInstruction struct {
	Op       uint8        `cbor:"op"`
	Int      *big.Int     `cbor:"int,omitempty"`
	Text     string       `cbor:"text,omitempty"`
	Symbol   uint32       `cbor:"symbol,omitempty"`
	HasValue bool         `cbor:"hasValue,omitempty"`
	Builtin  uint8        `cbor:"builtin,omitempty"`
	Constant *wireValue   `cbor:"constant,omitempty"`
	Module   string       `cbor:"module,omitempty"`
	Path     []string     `cbor:"path,omitempty"`
	Captured []int        `cbor:"captured,omitempty"`
	ArgCount int          `cbor:"argCount,omitempty"`
	Body     wireRange    `cbor:"body,omitempty"`
	Offset   int          `cbor:"offset,omitempty"`
	Count    int          `cbor:"count,omitempty"`
}

// ---------------------------------------------------------------------------
// Writing
// ---------------------------------------------------------------------------

// WriteProgram serializes a program into an image.
func WriteProgram(p *Program) ([]byte, error) {
	writer := &imageWriter{program: p, indexOf: make(map[uint64]uint64)}
	image, err := writer.build()
	if err != nil {
		return nil, err
	}
	body, err := cborEncMode.Marshal(image)
	if err != nil {
		return nil, fmt.Errorf("vm: marshal image: %w", err)
	}
	return append([]byte(ImageMagic), body...), nil
}

type imageWriter struct {
	program *Program
	indexOf map[uint64]uint64 // constant address -> table index
}

func (w *imageWriter) build() (*wireImage, error) {
	image := &wireImage{
		Symbols:     w.program.Symbols.Names(),
		EntryModule: w.program.EntryModule,
		Entry:       wireRange{w.program.Entry.Start, w.program.Entry.End},
	}

	// Constant addresses ascend in creation order, so ascending
	// address order is already topological.
	if w.program.Constants != nil {
		addresses := make([]uint64, 0, len(w.program.Constants.objects))
		for address := range w.program.Constants.objects {
			addresses = append(addresses, address)
		}
		sort.Slice(addresses, func(i, j int) bool { return addresses[i] < addresses[j] })
		for i, address := range addresses {
			w.indexOf[address] = uint64(i)
		}
		for _, address := range addresses {
			constant, err := w.encodeConstant(w.program.Constants.objects[address])
			if err != nil {
				return nil, err
			}
			image.Constants = append(image.Constants, constant)
		}
	}

	for i, in := range w.program.Instructions {
		encoded, err := w.encodeInstruction(in)
		if err != nil {
			return nil, fmt.Errorf("vm: instruction %d: %w", i, err)
		}
		image.Instructions = append(image.Instructions, encoded)
	}

	if len(w.program.ModuleBodies) > 0 {
		image.Modules = make(map[string]wireRange, len(w.program.ModuleBodies))
		for module, body := range w.program.ModuleBodies {
			image.Modules[module] = wireRange{body.Start, body.End}
		}
	}
	return image, nil
}

func (w *imageWriter) encodeValue(v Value) (wireValue, error) {
	switch v.Kind() {
	case KindPointer:
		index, ok := w.indexOf[v.Address()]
		if !ok {
			return wireValue{}, fmt.Errorf("value references a non-constant object")
		}
		return wireValue{Kind: uint8(KindPointer), Payload: index}, nil
	case KindInt:
		return wireValue{Kind: uint8(KindInt), Payload: uint64(v.InlineIntValue())}, nil
	case KindBuiltin:
		return wireValue{Kind: uint8(KindBuiltin), Payload: uint64(v.BuiltinValue())}, nil
	case KindTag:
		return wireValue{Kind: uint8(KindTag), Payload: uint64(v.InlineTagSymbol())}, nil
	default:
		return wireValue{}, fmt.Errorf("channel ports cannot be serialized")
	}
}

func (w *imageWriter) encodeValues(vs []Value) ([]wireValue, error) {
	out := make([]wireValue, len(vs))
	for i, v := range vs {
		encoded, err := w.encodeValue(v)
		if err != nil {
			return nil, err
		}
		out[i] = encoded
	}
	return out, nil
}

func (w *imageWriter) encodeConstant(o *object) (wireConstant, error) {
	constant := wireConstant{Kind: uint8(o.kind())}
	switch o.kind() {
	case ObjectInt:
		constant.Int = o.big
	case ObjectText:
		constant.Text = o.text
	case ObjectTag:
		constant.Symbol = uint32(o.symbol)
		if o.tagValue != 0 {
			value, err := w.encodeValue(o.tagValue)
			if err != nil {
				return wireConstant{}, err
			}
			constant.Value = &value
		}
	case ObjectList, ObjectFunction:
		items, err := w.encodeValues(o.items)
		if err != nil {
			return wireConstant{}, err
		}
		constant.Items = items
		constant.ArgCount = o.argCount
		constant.Body = wireRange{o.body.Start, o.body.End}
	case ObjectStruct:
		keys, err := w.encodeValues(o.keys)
		if err != nil {
			return wireConstant{}, err
		}
		values, err := w.encodeValues(o.values)
		if err != nil {
			return wireConstant{}, err
		}
		constant.Keys, constant.Values = keys, values
	case ObjectLocation:
		constant.Module = o.location.Module
		constant.Path = o.location.Path
	default:
		return wireConstant{}, fmt.Errorf("unknown object kind %d", o.kind())
	}
	return constant, nil
}

func (w *imageWriter) encodeInstruction(in Instruction) (wireInstruction, error) {
	encoded := wireInstruction{
		Op:       uint8(in.Op),
		Int:      in.Int,
		Text:     in.Text,
		Symbol:   uint32(in.Symbol),
		HasValue: in.HasValue,
		Builtin:  uint8(in.Builtin),
		Module:   in.Location.Module,
		Path:     in.Location.Path,
		Captured: in.Captured,
		ArgCount: in.ArgCount,
		Body:     wireRange{in.Body.Start, in.Body.End},
		Offset:   in.Offset,
		Count:    in.Count,
	}
	if in.Op == OpPushConstant {
		constant, err := w.encodeValue(in.Constant)
		if err != nil {
			return wireInstruction{}, err
		}
		encoded.Constant = &constant
	}
	return encoded, nil
}

// ---------------------------------------------------------------------------
// Reading
// ---------------------------------------------------------------------------

// ReadProgram deserializes and validates a program image. Corrupt
// input yields descriptive errors, never a crash.
func ReadProgram(data []byte) (*Program, error) {
	if !bytes.HasPrefix(data, []byte(ImageMagic)) {
		return nil, fmt.Errorf("vm: not a program image (bad magic)")
	}
	var image wireImage
	if err := cbor.Unmarshal(data[len(ImageMagic):], &image); err != nil {
		return nil, fmt.Errorf("vm: unmarshal image: %w", err)
	}

	program := NewProgram()
	program.EntryModule = image.EntryModule
	program.Entry = CodeRange{image.Entry.Start, image.Entry.End}

	// Re-intern symbols; IDs may shift, so remap through symbolFor.
	symbolIDs := make([]SymbolID, len(image.Symbols))
	for i, name := range image.Symbols {
		symbolIDs[i] = program.Symbols.Intern(name)
	}
	symbolFor := func(raw uint32) (SymbolID, error) {
		if int(raw) >= len(symbolIDs) {
			return 0, fmt.Errorf("symbol index %d out of range", raw)
		}
		return symbolIDs[raw], nil
	}

	reader := &imageReader{symbolFor: symbolFor}
	for i, constant := range image.Constants {
		value, err := reader.decodeConstant(program.Constants, constant)
		if err != nil {
			return nil, fmt.Errorf("vm: constant %d: %w", i, err)
		}
		reader.constants = append(reader.constants, value)
	}

	for i, encoded := range image.Instructions {
		in, err := reader.decodeInstruction(encoded)
		if err != nil {
			return nil, fmt.Errorf("vm: instruction %d: %w", i, err)
		}
		program.Instructions = append(program.Instructions, in)
	}

	for module, body := range image.Modules {
		program.ModuleBodies[module] = CodeRange{body.Start, body.End}
	}

	if err := program.Validate(); err != nil {
		return nil, fmt.Errorf("vm: invalid image: %w", err)
	}
	return program, nil
}

type imageReader struct {
	constants []Value
	symbolFor func(uint32) (SymbolID, error)
}

func (r *imageReader) decodeValue(encoded wireValue) (Value, error) {
	switch ValueKind(encoded.Kind) {
	case KindPointer:
		if encoded.Payload >= uint64(len(r.constants)) {
			return 0, fmt.Errorf("constant index %d references a later entry", encoded.Payload)
		}
		return r.constants[encoded.Payload], nil
	case KindInt:
		i := int64(encoded.Payload)
		if !FitsInline(i) {
			return 0, fmt.Errorf("inline int %d out of range", i)
		}
		return inlineIntValue(i), nil
	case KindBuiltin:
		if encoded.Payload >= uint64(NumBuiltins) {
			return 0, fmt.Errorf("unknown builtin %d", encoded.Payload)
		}
		return BuiltinToValue(Builtin(encoded.Payload)), nil
	case KindTag:
		symbol, err := r.symbolFor(uint32(encoded.Payload))
		if err != nil {
			return 0, err
		}
		return TagToValue(symbol), nil
	default:
		return 0, fmt.Errorf("value kind %d cannot appear in an image", encoded.Kind)
	}
}

func (r *imageReader) decodeValues(encoded []wireValue) ([]Value, error) {
	out := make([]Value, len(encoded))
	for i, e := range encoded {
		value, err := r.decodeValue(e)
		if err != nil {
			return nil, err
		}
		out[i] = value
	}
	return out, nil
}

func (r *imageReader) decodeConstant(constants *Heap, encoded wireConstant) (Value, error) {
	switch ObjectKind(encoded.Kind) {
	case ObjectInt:
		if encoded.Int == nil {
			return 0, fmt.Errorf("int constant without a value")
		}
		return constants.CreateInt(encoded.Int), nil
	case ObjectText:
		return constants.CreateText(encoded.Text), nil
	case ObjectTag:
		symbol, err := r.symbolFor(encoded.Symbol)
		if err != nil {
			return 0, err
		}
		if encoded.Value == nil {
			return constants.CreateTag(symbol), nil
		}
		payload, err := r.decodeValue(*encoded.Value)
		if err != nil {
			return 0, err
		}
		return constants.CreateTagWithValue(symbol, payload), nil
	case ObjectList:
		items, err := r.decodeValues(encoded.Items)
		if err != nil {
			return 0, err
		}
		return constants.CreateList(items), nil
	case ObjectFunction:
		captured, err := r.decodeValues(encoded.Items)
		if err != nil {
			return 0, err
		}
		if encoded.ArgCount < 0 {
			return 0, fmt.Errorf("negative argument count")
		}
		body := CodeRange{encoded.Body.Start, encoded.Body.End}
		return constants.CreateFunction(captured, encoded.ArgCount, body), nil
	case ObjectStruct:
		if len(encoded.Keys) != len(encoded.Values) {
			return 0, fmt.Errorf("struct constant with mismatched keys and values")
		}
		keys, err := r.decodeValues(encoded.Keys)
		if err != nil {
			return 0, err
		}
		values, err := r.decodeValues(encoded.Values)
		if err != nil {
			return 0, err
		}
		return constants.CreateStruct(keys, values), nil
	case ObjectLocation:
		return constants.CreateLocation(Location{Module: encoded.Module, Path: encoded.Path}), nil
	default:
		return 0, fmt.Errorf("unknown object kind %d", encoded.Kind)
	}
}

func (r *imageReader) decodeInstruction(encoded wireInstruction) (Instruction, error) {
	if Opcode(encoded.Op) >= numOpcodes {
		return Instruction{}, fmt.Errorf("unknown opcode %d", encoded.Op)
	}
	in := Instruction{
		Op:       Opcode(encoded.Op),
		Int:      encoded.Int,
		Text:     encoded.Text,
		HasValue: encoded.HasValue,
		Builtin:  Builtin(encoded.Builtin),
		Location: Location{Module: encoded.Module, Path: encoded.Path},
		Captured: encoded.Captured,
		ArgCount: encoded.ArgCount,
		Body:     CodeRange{encoded.Body.Start, encoded.Body.End},
		Offset:   encoded.Offset,
		Count:    encoded.Count,
	}
	if in.Op == OpCreateTag {
		symbol, err := r.symbolFor(encoded.Symbol)
		if err != nil {
			return Instruction{}, err
		}
		in.Symbol = symbol
	}
	if in.Op == OpPushConstant {
		if encoded.Constant == nil {
			return Instruction{}, fmt.Errorf("pushConstant without a constant")
		}
		constant, err := r.decodeValue(*encoded.Constant)
		if err != nil {
			return Instruction{}, err
		}
		in.Constant = constant
	}
	return in, nil
}
