package vm

import "fmt"

// ---------------------------------------------------------------------------
// List builtins
// ---------------------------------------------------------------------------

func (f *Fiber) listArgument(b Builtin, v Value) string {
	if !f.heap.IsList(v) {
		return fmt.Sprintf("`%s` expected a list, but got %s.",
			b, ToDebugText(f.heap, v, debugTextLimit))
	}
	return ""
}

// listIndex validates an index against a list of the given length.
// limit is the first invalid index: len for reads, len+1 for inserts.
func (f *Fiber) listIndex(b Builtin, v Value, limit int) (int, string) {
	index, ok := f.intArgument(v)
	if !ok {
		return 0, fmt.Sprintf("`%s` expected an int index, but got %s.",
			b, ToDebugText(f.heap, v, debugTextLimit))
	}
	if index < 0 || index >= int64(limit) {
		return 0, fmt.Sprintf(
			"`%s` received the out-of-bounds index %d (valid up to %d).",
			b, index, limit-1)
	}
	return int(index), ""
}

func (f *Fiber) builtinListFilled(args []Value) (Value, string) {
	length, ok := f.intArgument(args[0])
	if !ok || length < 0 {
		return 0, fmt.Sprintf("`listFilled` expected a non-negative length, but got %s.",
			ToDebugText(f.heap, args[0], debugTextLimit))
	}
	item := args[1]
	f.heap.Drop(args[0])
	items := make([]Value, length)
	if length == 0 {
		f.heap.Drop(item)
	} else {
		f.heap.DupBy(item, int(length)-1)
		for i := range items {
			items[i] = item
		}
	}
	return f.heap.CreateList(items), ""
}

func (f *Fiber) builtinListGet(args []Value) (Value, string) {
	if reason := f.listArgument(BuiltinListGet, args[0]); reason != "" {
		return 0, reason
	}
	items := f.heap.ListItems(args[0])
	index, reason := f.listIndex(BuiltinListGet, args[1], len(items))
	if reason != "" {
		return 0, reason
	}
	item := items[index]
	f.heap.Dup(item)
	f.heap.DropAll(args)
	return item, ""
}

func (f *Fiber) builtinListInsert(args []Value) (Value, string) {
	if reason := f.listArgument(BuiltinListInsert, args[0]); reason != "" {
		return 0, reason
	}
	items := f.heap.ListItems(args[0])
	index, reason := f.listIndex(BuiltinListInsert, args[1], len(items)+1)
	if reason != "" {
		return 0, reason
	}
	newItems := make([]Value, 0, len(items)+1)
	newItems = append(newItems, items[:index]...)
	newItems = append(newItems, args[2])
	newItems = append(newItems, items[index:]...)
	for _, item := range items {
		f.heap.Dup(item)
	}
	f.heap.Drop(args[0])
	f.heap.Drop(args[1])
	return f.heap.CreateList(newItems), ""
}

func (f *Fiber) builtinListLength(args []Value) (Value, string) {
	if reason := f.listArgument(BuiltinListLength, args[0]); reason != "" {
		return 0, reason
	}
	length := len(f.heap.ListItems(args[0]))
	f.heap.Drop(args[0])
	return f.heap.CreateIntFromInt64(int64(length)), ""
}

func (f *Fiber) builtinListRemoveAt(args []Value) (Value, string) {
	if reason := f.listArgument(BuiltinListRemoveAt, args[0]); reason != "" {
		return 0, reason
	}
	items := f.heap.ListItems(args[0])
	index, reason := f.listIndex(BuiltinListRemoveAt, args[1], len(items))
	if reason != "" {
		return 0, reason
	}
	newItems := make([]Value, 0, len(items)-1)
	for i, item := range items {
		if i == index {
			continue
		}
		f.heap.Dup(item)
		newItems = append(newItems, item)
	}
	f.heap.DropAll(args)
	return f.heap.CreateList(newItems), ""
}

func (f *Fiber) builtinListReplace(args []Value) (Value, string) {
	if reason := f.listArgument(BuiltinListReplace, args[0]); reason != "" {
		return 0, reason
	}
	items := f.heap.ListItems(args[0])
	index, reason := f.listIndex(BuiltinListReplace, args[1], len(items))
	if reason != "" {
		return 0, reason
	}
	newItems := make([]Value, len(items))
	for i, item := range items {
		if i == index {
			newItems[i] = args[2]
			continue
		}
		f.heap.Dup(item)
		newItems[i] = item
	}
	f.heap.Drop(args[0])
	f.heap.Drop(args[1])
	return f.heap.CreateList(newItems), ""
}
