package vm

import "fmt"

// ---------------------------------------------------------------------------
// Tag builtins
// ---------------------------------------------------------------------------

func (f *Fiber) tagArgument(b Builtin, v Value) string {
	if !f.heap.IsTag(v) {
		return fmt.Sprintf("`%s` expected a tag, but got %s.",
			b, ToDebugText(f.heap, v, debugTextLimit))
	}
	return ""
}

func (f *Fiber) builtinTagGetValue(args []Value) (Value, string) {
	if reason := f.tagArgument(BuiltinTagGetValue, args[0]); reason != "" {
		return 0, reason
	}
	value, ok := f.heap.TagValue(args[0])
	if !ok {
		return 0, fmt.Sprintf("`tagGetValue` expected a tag with a value, but %s has none.",
			ToDebugText(f.heap, args[0], debugTextLimit))
	}
	f.heap.Dup(value)
	f.heap.Drop(args[0])
	return value, ""
}

func (f *Fiber) builtinTagHasValue(args []Value) (Value, string) {
	if reason := f.tagArgument(BuiltinTagHasValue, args[0]); reason != "" {
		return 0, reason
	}
	_, has := f.heap.TagValue(args[0])
	f.heap.Drop(args[0])
	return f.heap.CreateBool(has), ""
}

func (f *Fiber) builtinTagWithoutValue(args []Value) (Value, string) {
	if reason := f.tagArgument(BuiltinTagWithoutValue, args[0]); reason != "" {
		return 0, reason
	}
	symbol := f.heap.TagSymbol(args[0])
	f.heap.Drop(args[0])
	return TagToValue(symbol), ""
}
