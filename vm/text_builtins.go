package vm

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rivo/uniseg"
)

// ---------------------------------------------------------------------------
// Text builtins
// ---------------------------------------------------------------------------
//
// Texts are UTF-8; user-visible character positions count grapheme
// clusters, not bytes or runes.

func (f *Fiber) textArgument(b Builtin, v Value) (string, string) {
	if !f.heap.IsText(v) {
		return "", fmt.Sprintf("`%s` expected a text, but got %s.",
			b, ToDebugText(f.heap, v, debugTextLimit))
	}
	return f.heap.TextValue(v), ""
}

func graphemes(s string) []string {
	var parts []string
	state := -1
	for len(s) > 0 {
		var cluster string
		cluster, s, _, state = uniseg.FirstGraphemeClusterInString(s, state)
		parts = append(parts, cluster)
	}
	return parts
}

func (f *Fiber) builtinTextCharacters(args []Value) (Value, string) {
	text, reason := f.textArgument(BuiltinTextCharacters, args[0])
	if reason != "" {
		return 0, reason
	}
	f.heap.Drop(args[0])
	clusters := graphemes(text)
	items := make([]Value, len(clusters))
	for i, cluster := range clusters {
		items[i] = f.heap.CreateText(cluster)
	}
	return f.heap.CreateList(items), ""
}

func (f *Fiber) builtinTextConcatenate(args []Value) (Value, string) {
	lhs, reason := f.textArgument(BuiltinTextConcatenate, args[0])
	if reason != "" {
		return 0, reason
	}
	rhs, reason := f.textArgument(BuiltinTextConcatenate, args[1])
	if reason != "" {
		return 0, reason
	}
	f.heap.DropAll(args)
	return f.heap.CreateText(lhs + rhs), ""
}

func (f *Fiber) builtinTextContains(args []Value) (Value, string) {
	text, reason := f.textArgument(BuiltinTextContains, args[0])
	if reason != "" {
		return 0, reason
	}
	pattern, reason := f.textArgument(BuiltinTextContains, args[1])
	if reason != "" {
		return 0, reason
	}
	f.heap.DropAll(args)
	return f.heap.CreateBool(strings.Contains(text, pattern)), ""
}

func (f *Fiber) builtinTextEndsWith(args []Value) (Value, string) {
	text, reason := f.textArgument(BuiltinTextEndsWith, args[0])
	if reason != "" {
		return 0, reason
	}
	suffix, reason := f.textArgument(BuiltinTextEndsWith, args[1])
	if reason != "" {
		return 0, reason
	}
	f.heap.DropAll(args)
	return f.heap.CreateBool(strings.HasSuffix(text, suffix)), ""
}

func (f *Fiber) builtinTextStartsWith(args []Value) (Value, string) {
	text, reason := f.textArgument(BuiltinTextStartsWith, args[0])
	if reason != "" {
		return 0, reason
	}
	prefix, reason := f.textArgument(BuiltinTextStartsWith, args[1])
	if reason != "" {
		return 0, reason
	}
	f.heap.DropAll(args)
	return f.heap.CreateBool(strings.HasPrefix(text, prefix)), ""
}

// builtinTextFromUtf8 decodes a list of byte ints into a text,
// yielding Ok text or Error when the bytes are not valid UTF-8.
func (f *Fiber) builtinTextFromUtf8(args []Value) (Value, string) {
	if !f.heap.IsList(args[0]) {
		return 0, fmt.Sprintf("`textFromUtf8` expected a list of bytes, but got %s.",
			ToDebugText(f.heap, args[0], debugTextLimit))
	}
	items := f.heap.ListItems(args[0])
	bytes := make([]byte, len(items))
	for i, item := range items {
		b, ok := f.intArgument(item)
		if !ok || b < 0 || b > 255 {
			return 0, fmt.Sprintf("`textFromUtf8` expected a list of bytes, but got %s.",
				ToDebugText(f.heap, item, debugTextLimit))
		}
		bytes[i] = byte(b)
	}
	f.heap.Drop(args[0])
	if !utf8.Valid(bytes) {
		reason := f.heap.CreateText("The bytes are not valid UTF-8.")
		return f.heap.CreateError(reason), ""
	}
	return f.heap.CreateOk(f.heap.CreateText(string(bytes))), ""
}

func (f *Fiber) builtinTextGetRange(args []Value) (Value, string) {
	text, reason := f.textArgument(BuiltinTextGetRange, args[0])
	if reason != "" {
		return 0, reason
	}
	start, okStart := f.intArgument(args[1])
	end, okEnd := f.intArgument(args[2])
	if !okStart || !okEnd {
		return 0, fmt.Sprintf("`textGetRange` expected int indices, but got %s and %s.",
			ToDebugText(f.heap, args[1], debugTextLimit),
			ToDebugText(f.heap, args[2], debugTextLimit))
	}
	clusters := graphemes(text)
	if start < 0 || end < start || end > int64(len(clusters)) {
		return 0, fmt.Sprintf(
			"`textGetRange` received the out-of-bounds range %d..%d (text length is %d).",
			start, end, len(clusters))
	}
	f.heap.DropAll(args)
	return f.heap.CreateText(strings.Join(clusters[start:end], "")), ""
}

func (f *Fiber) builtinTextIsEmpty(args []Value) (Value, string) {
	text, reason := f.textArgument(BuiltinTextIsEmpty, args[0])
	if reason != "" {
		return 0, reason
	}
	f.heap.Drop(args[0])
	return f.heap.CreateBool(text == ""), ""
}

func (f *Fiber) builtinTextLength(args []Value) (Value, string) {
	text, reason := f.textArgument(BuiltinTextLength, args[0])
	if reason != "" {
		return 0, reason
	}
	f.heap.Drop(args[0])
	return f.heap.CreateIntFromInt64(int64(uniseg.GraphemeClusterCount(text))), ""
}

func (f *Fiber) builtinTextTrimEnd(args []Value) (Value, string) {
	text, reason := f.textArgument(BuiltinTextTrimEnd, args[0])
	if reason != "" {
		return 0, reason
	}
	f.heap.Drop(args[0])
	return f.heap.CreateText(strings.TrimRight(text, " \t\r\n")), ""
}

func (f *Fiber) builtinTextTrimStart(args []Value) (Value, string) {
	text, reason := f.textArgument(BuiltinTextTrimStart, args[0])
	if reason != "" {
		return 0, reason
	}
	f.heap.Drop(args[0])
	return f.heap.CreateText(strings.TrimLeft(text, " \t\r\n")), ""
}
