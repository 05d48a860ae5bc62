package vm

import "hash/fnv"

// ---------------------------------------------------------------------------
// Structural equality and hashing
// ---------------------------------------------------------------------------

// Equals reports whether two values in this heap are structurally
// equal.
func (h *Heap) Equals(a, b Value) bool {
	return ValueEquals(h, a, h, b)
}

// ValueEquals reports structural equality of two values, possibly in
// different heaps. Channel ports compare by channel identity; structs
// compare independently of entry order.
func ValueEquals(ha *Heap, a Value, hb *Heap, b Value) bool {
	switch a.Kind() {
	case KindInt:
		if b.IsInlineInt() {
			return a == b
		}
		// Normalized heaps never store an inline-range int on the
		// heap, but compare by content anyway.
		if b.IsPointer() && hb.lookup(b).kind() == ObjectInt {
			return hb.lookup(b).big.IsInt64() &&
				hb.lookup(b).big.Int64() == a.InlineIntValue()
		}
		return false
	case KindBuiltin, KindSendPort, KindReceivePort:
		return a == b
	case KindTag:
		// Heap tags always carry a payload, so they never equal an
		// inline tag.
		return b.IsInlineTag() && a == b
	case KindPointer:
		if !b.IsPointer() {
			// Mirror the inline cases above.
			return ValueEquals(hb, b, ha, a)
		}
	default:
		panic("vm: unknown value kind")
	}

	oa, ob := ha.lookup(a), hb.lookup(b)
	if oa.kind() != ob.kind() {
		return false
	}
	switch oa.kind() {
	case ObjectInt:
		return oa.big.Cmp(ob.big) == 0
	case ObjectText:
		return oa.text == ob.text
	case ObjectLocation:
		return oa.location.Equal(ob.location)
	case ObjectTag:
		return oa.symbol == ob.symbol &&
			ValueEquals(ha, oa.tagValue, hb, ob.tagValue)
	case ObjectList:
		if len(oa.items) != len(ob.items) {
			return false
		}
		for i := range oa.items {
			if !ValueEquals(ha, oa.items[i], hb, ob.items[i]) {
				return false
			}
		}
		return true
	case ObjectFunction:
		if oa.argCount != ob.argCount || oa.body != ob.body ||
			len(oa.items) != len(ob.items) {
			return false
		}
		for i := range oa.items {
			if !ValueEquals(ha, oa.items[i], hb, ob.items[i]) {
				return false
			}
		}
		return true
	case ObjectStruct:
		// Entry order depends on hash layout, so compare by lookup:
		// every key of a must map to an equal value in b.
		if len(oa.keys) != len(ob.keys) {
			return false
		}
		for i := range oa.keys {
			value, ok := structLookupAcross(hb, ob, oa.hashes[i], ha, oa.keys[i])
			if !ok || !ValueEquals(ha, oa.values[i], hb, value) {
				return false
			}
		}
		return true
	default:
		panic("vm: unknown object kind")
	}
}

// ValueHash returns a content hash consistent with ValueEquals: equal
// values hash equally, in any heap.
func ValueHash(h *Heap, v Value) uint64 {
	switch v.Kind() {
	case KindInt:
		return hashInt64(v.InlineIntValue())
	case KindBuiltin:
		return hashWords(0x62, v.payload())
	case KindTag:
		return hashWords(0x74, uint64(v.InlineTagSymbol()))
	case KindSendPort:
		return hashWords(0x73, v.payload())
	case KindReceivePort:
		return hashWords(0x72, v.payload())
	case KindPointer:
		// handled below
	default:
		panic("vm: unknown value kind")
	}

	o := h.lookup(v)
	switch o.kind() {
	case ObjectInt:
		if o.big.IsInt64() {
			return hashInt64(o.big.Int64())
		}
		hasher := fnv.New64a()
		if o.big.Sign() < 0 {
			hasher.Write([]byte{'-'})
		}
		hasher.Write(o.big.Bytes())
		return hasher.Sum64()
	case ObjectText:
		hasher := fnv.New64a()
		hasher.Write([]byte(o.text))
		return hasher.Sum64()
	case ObjectLocation:
		hasher := fnv.New64a()
		hasher.Write([]byte(o.location.Module))
		for _, part := range o.location.Path {
			hasher.Write([]byte{0})
			hasher.Write([]byte(part))
		}
		return hasher.Sum64()
	case ObjectTag:
		return hashWords(0x74, uint64(o.symbol), ValueHash(h, o.tagValue))
	case ObjectList:
		words := make([]uint64, 0, len(o.items)+1)
		words = append(words, 0x6c)
		for _, item := range o.items {
			words = append(words, ValueHash(h, item))
		}
		return hashWords(words...)
	case ObjectFunction:
		words := make([]uint64, 0, len(o.items)+3)
		words = append(words, 0x66, uint64(o.argCount),
			uint64(o.body.Start)<<32|uint64(o.body.End))
		for _, captured := range o.items {
			words = append(words, ValueHash(h, captured))
		}
		return hashWords(words...)
	case ObjectStruct:
		// Commutative combination: the hash must not depend on entry
		// order, including the order of hash-colliding keys.
		var sum uint64
		for i := range o.keys {
			sum += hashWords(o.hashes[i], ValueHash(h, o.values[i]))
		}
		return sum ^ hashWords(0x7b, uint64(len(o.keys)))
	default:
		panic("vm: unknown object kind")
	}
}

func hashInt64(i int64) uint64 {
	return hashWords(0x69, uint64(i))
}

func hashWords(words ...uint64) uint64 {
	hasher := fnv.New64a()
	var buf [8]byte
	for _, w := range words {
		for i := 0; i < 8; i++ {
			buf[i] = byte(w >> (8 * i))
		}
		hasher.Write(buf[:])
	}
	return hasher.Sum64()
}
