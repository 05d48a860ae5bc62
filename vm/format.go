package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Debug formatting
// ---------------------------------------------------------------------------

// debugTextLimit bounds value renderings embedded in panic messages.
const debugTextLimit = 100

// DebugTextUnlimited renders values in full.
const DebugTextUnlimited = int(^uint(0) >> 1)

// ToDebugText renders a value as a single human-readable line of at
// most maxLength runes. When the budget is too small for the full
// rendering it degrades gracefully: container items are elided with …
// placeholders, texts are truncated, and in the worst case a single …
// is returned. It never fails.
func ToDebugText(h *Heap, v Value, maxLength int) string {
	if maxLength <= 0 {
		return ""
	}
	rendered := renderValue(h, v, maxLength)
	return fitRunes(rendered, maxLength)
}

// renderValue produces a rendering aimed at the budget; fitRunes
// enforces the hard bound afterwards.
func renderValue(h *Heap, v Value, budget int) string {
	switch v.Kind() {
	case KindInt:
		return fmt.Sprintf("%d", v.InlineIntValue())
	case KindBuiltin:
		return v.BuiltinValue().String()
	case KindTag:
		return h.symbols.Name(v.InlineTagSymbol())
	case KindSendPort:
		return fmt.Sprintf("sendPort(%d)", v.PortChannel())
	case KindReceivePort:
		return fmt.Sprintf("receivePort(%d)", v.PortChannel())
	case KindPointer:
		// handled below
	default:
		panic("vm: unknown value kind")
	}

	o := h.lookup(v)
	switch o.kind() {
	case ObjectInt:
		return o.big.String()
	case ObjectText:
		return renderText(o.text, budget)
	case ObjectLocation:
		return "<" + o.location.String() + ">"
	case ObjectFunction:
		return "{…}"
	case ObjectTag:
		inner := renderValue(h, o.tagValue, budget-len(h.symbols.Name(o.symbol))-3)
		return "(" + h.symbols.Name(o.symbol) + " " + inner + ")"
	case ObjectList:
		return renderContainer(budget, "(", ")", len(o.items),
			func(i, itemBudget int) string {
				return renderValue(h, o.items[i], itemBudget)
			}, len(o.items) == 1)
	case ObjectStruct:
		return renderContainer(budget, "[", "]", len(o.keys),
			func(i, itemBudget int) string {
				key := renderValue(h, o.keys[i], itemBudget/2)
				value := renderValue(h, o.values[i], itemBudget-len(key))
				return key + ": " + value
			}, false)
	default:
		panic("vm: unknown object kind")
	}
}

func renderText(text string, budget int) string {
	quoted := "\"" + text + "\""
	if runeCount(quoted) <= budget {
		return quoted
	}
	if budget < 3 {
		return "…"
	}
	runes := []rune(text)
	keep := budget - 3
	if keep > len(runes) {
		keep = len(runes)
	}
	return "\"" + string(runes[:keep]) + "…\""
}

// renderContainer renders delimited items, eliding the tail with a
// single … once the budget is exhausted. Structure is preferred over
// content: the delimiters always appear.
func renderContainer(budget int, open, close string, n int, item func(i, itemBudget int) string, trailingComma bool) string {
	if n == 0 {
		if open == "(" {
			return "(,)"
		}
		return open + close
	}
	var b strings.Builder
	b.WriteString(open)
	used := 2
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
			used += 2
		}
		remaining := budget - used
		if remaining < 2 && i > 0 {
			b.WriteString("…")
			break
		}
		rendered := item(i, remaining)
		if runeCount(rendered) > remaining && i > 0 {
			b.WriteString("…")
			break
		}
		b.WriteString(rendered)
		used += runeCount(rendered)
	}
	if trailingComma {
		b.WriteString(",")
	}
	b.WriteString(close)
	return b.String()
}

func runeCount(s string) int {
	return len([]rune(s))
}

// fitRunes enforces the budget, replacing the overflowing tail with …
func fitRunes(s string, budget int) string {
	runes := []rune(s)
	if len(runes) <= budget {
		return s
	}
	if budget < 1 {
		return ""
	}
	return string(runes[:budget-1]) + "…"
}
