package vm

import "fmt"

// ---------------------------------------------------------------------------
// Struct builtins
// ---------------------------------------------------------------------------

func (f *Fiber) structArgument(b Builtin, v Value) string {
	if !f.heap.IsStruct(v) {
		return fmt.Sprintf("`%s` expected a struct, but got %s.",
			b, ToDebugText(f.heap, v, debugTextLimit))
	}
	return ""
}

func (f *Fiber) builtinStructGet(args []Value) (Value, string) {
	if reason := f.structArgument(BuiltinStructGet, args[0]); reason != "" {
		return 0, reason
	}
	value, ok := f.heap.StructGet(args[0], args[1])
	if !ok {
		return 0, fmt.Sprintf("`structGet` did not find the key %s in %s.",
			ToDebugText(f.heap, args[1], debugTextLimit),
			ToDebugText(f.heap, args[0], debugTextLimit))
	}
	f.heap.Dup(value)
	f.heap.DropAll(args)
	return value, ""
}

func (f *Fiber) builtinStructGetKeys(args []Value) (Value, string) {
	if reason := f.structArgument(BuiltinStructGetKeys, args[0]); reason != "" {
		return 0, reason
	}
	keys := f.heap.StructKeys(args[0])
	items := make([]Value, len(keys))
	for i, key := range keys {
		f.heap.Dup(key)
		items[i] = key
	}
	f.heap.Drop(args[0])
	return f.heap.CreateList(items), ""
}

func (f *Fiber) builtinStructHasKey(args []Value) (Value, string) {
	if reason := f.structArgument(BuiltinStructHasKey, args[0]); reason != "" {
		return 0, reason
	}
	has := f.heap.StructHasKey(args[0], args[1])
	f.heap.DropAll(args)
	return f.heap.CreateBool(has), ""
}
