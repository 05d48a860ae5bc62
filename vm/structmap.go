package vm

import "sort"

// ---------------------------------------------------------------------------
// Structs: immutable maps stored as hash-sorted triples
// ---------------------------------------------------------------------------
//
// A struct stores its entries as three parallel slices (hash, key,
// value) sorted by key hash. Lookup binary-searches the hash column to
// the first matching hash, then scans forward over hash collisions
// comparing keys structurally. Updates never mutate: they allocate a
// new struct.

// CreateStruct allocates a struct from key/value pairs, taking
// ownership of all of them. When a key occurs more than once, the last
// pair wins and the earlier key and value are released.
func (h *Heap) CreateStruct(keys, values []Value) Value {
	if len(keys) != len(values) {
		panic("vm: CreateStruct key/value length mismatch")
	}
	hashes := make([]uint64, 0, len(keys))
	sortedKeys := make([]Value, 0, len(keys))
	sortedValues := make([]Value, 0, len(values))
	for i := range keys {
		hash := ValueHash(h, keys[i])
		idx, found := structFind(h, hashes, sortedKeys, hash, h, keys[i])
		if found {
			// Replace: keep the stored key, release the duplicate.
			h.Drop(keys[i])
			h.Drop(sortedValues[idx])
			sortedValues[idx] = values[i]
			continue
		}
		hashes = append(hashes, 0)
		sortedKeys = append(sortedKeys, 0)
		sortedValues = append(sortedValues, 0)
		copy(hashes[idx+1:], hashes[idx:])
		copy(sortedKeys[idx+1:], sortedKeys[idx:])
		copy(sortedValues[idx+1:], sortedValues[idx:])
		hashes[idx] = hash
		sortedKeys[idx] = keys[i]
		sortedValues[idx] = values[i]
	}
	return h.allocate(&object{
		header: makeHeader(ObjectStruct, true, len(sortedKeys)),
		hashes: hashes,
		keys:   sortedKeys,
		values: sortedValues,
	})
}

// structFind locates the entry for a key. It returns the entry index
// when found, otherwise the insertion position keeping the hash column
// sorted.
func structFind(h *Heap, hashes []uint64, keys []Value, hash uint64, kh *Heap, key Value) (int, bool) {
	idx := sort.Search(len(hashes), func(i int) bool { return hashes[i] >= hash })
	for ; idx < len(hashes) && hashes[idx] == hash; idx++ {
		if ValueEquals(h, keys[idx], kh, key) {
			return idx, true
		}
	}
	return idx, false
}

func structLookupAcross(h *Heap, o *object, hash uint64, kh *Heap, key Value) (Value, bool) {
	idx, found := structFind(h, o.hashes, o.keys, hash, kh, key)
	if !found {
		return 0, false
	}
	return o.values[idx], true
}

// IsStruct reports whether the value is a struct.
func (h *Heap) IsStruct(v Value) bool {
	return v.IsPointer() && h.lookup(v).kind() == ObjectStruct
}

// StructLen returns the number of entries in a struct.
func (h *Heap) StructLen(v Value) int {
	return h.structObject(v).length()
}

// StructGet returns the value stored under the key, borrowed from the
// struct, and whether the key is present.
func (h *Heap) StructGet(v, key Value) (Value, bool) {
	o := h.structObject(v)
	return structLookupAcross(h, o, ValueHash(h, key), h, key)
}

// StructHasKey reports whether the struct contains the key.
func (h *Heap) StructHasKey(v, key Value) bool {
	_, ok := h.StructGet(v, key)
	return ok
}

// StructKeys returns the struct's keys in hash order, borrowed from
// the struct.
func (h *Heap) StructKeys(v Value) []Value {
	return h.structObject(v).keys
}

// StructValues returns the struct's values in hash order, borrowed
// from the struct.
func (h *Heap) StructValues(v Value) []Value {
	return h.structObject(v).values
}

// StructInsert returns a new struct with the key mapped to the value,
// taking ownership of key and value. The original struct is untouched;
// replacing an existing key yields a struct of the same length,
// otherwise length grows by one. Shared entries are dup'd, not cloned.
func (h *Heap) StructInsert(v, key, value Value) Value {
	o := h.structObject(v)
	hash := ValueHash(h, key)
	idx, found := structFind(h, o.hashes, o.keys, hash, h, key)

	n := len(o.keys)
	if !found {
		n++
	}
	hashes := make([]uint64, 0, n)
	keys := make([]Value, 0, n)
	values := make([]Value, 0, n)
	for i := range o.keys {
		if found && i == idx {
			continue
		}
		h.Dup(o.keys[i])
		h.Dup(o.values[i])
		hashes = append(hashes, o.hashes[i])
		keys = append(keys, o.keys[i])
		values = append(values, o.values[i])
	}
	at := sort.Search(len(hashes), func(i int) bool { return hashes[i] >= hash })
	hashes = append(hashes, 0)
	keys = append(keys, 0)
	values = append(values, 0)
	copy(hashes[at+1:], hashes[at:])
	copy(keys[at+1:], keys[at:])
	copy(values[at+1:], values[at:])
	hashes[at] = hash
	keys[at] = key
	values[at] = value

	return h.allocate(&object{
		header: makeHeader(ObjectStruct, true, len(keys)),
		hashes: hashes,
		keys:   keys,
		values: values,
	})
}

func (h *Heap) structObject(v Value) *object {
	o := h.lookup(v)
	if o.kind() != ObjectStruct {
		panic("vm: struct operation on non-struct value")
	}
	return o
}
