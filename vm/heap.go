package vm

// ---------------------------------------------------------------------------
// Heap: reference-counted object storage
// ---------------------------------------------------------------------------

// Heap stores the objects a fiber owns. Every fiber has its own heap;
// heaps are single-threaded and never shared between running fibers.
// Values move between heaps only by deep cloning (see CloneTo).
//
// A heap may additionally reference a shared constant heap. Constant
// objects are not reference counted and outlive every fiber; pointer
// values into the constant heap are recognized by the constant address
// bit and are copied verbatim by clones.
type Heap struct {
	symbols  *SymbolTable
	constant bool

	objects     map[uint64]*object
	nextAddress uint64

	// channelRefCounts tracks how many owned port values for each
	// channel currently live in this heap. The scheduler drains the
	// transition lists to keep channels alive exactly as long as some
	// heap can still reach them.
	channelRefCounts map[ChannelID]int
	newChannels      []ChannelID
	releasedChannels []ChannelID

	constants *Heap
}

// NewHeap creates an empty heap. The constant heap may be nil.
func NewHeap(symbols *SymbolTable, constants *Heap) *Heap {
	if constants != nil && !constants.constant {
		panic("vm: NewHeap given a non-constant heap as constants")
	}
	return &Heap{
		symbols:          symbols,
		objects:          make(map[uint64]*object),
		nextAddress:      1,
		channelRefCounts: make(map[ChannelID]int),
		constants:        constants,
	}
}

// NewConstantHeap creates a heap whose objects are not reference
// counted and whose addresses carry the constant address bit.
func NewConstantHeap(symbols *SymbolTable) *Heap {
	h := NewHeap(symbols, nil)
	h.constant = true
	return h
}

// Symbols returns the symbol table shared with this heap.
func (h *Heap) Symbols() *SymbolTable { return h.symbols }

// Constants returns the constant heap, or nil.
func (h *Heap) Constants() *Heap { return h.constants }

// ObjectCount returns the number of live objects in this heap, not
// counting the constant heap.
func (h *Heap) ObjectCount() int { return len(h.objects) }

func (h *Heap) allocate(o *object) Value {
	address := h.nextAddress
	h.nextAddress++
	if h.constant {
		address |= constantAddressBit
		o.header &^= headerRefCountedFlag
		o.refCount = 0
	} else {
		o.refCount = 1
	}
	h.objects[address] = o
	return pointerValue(address)
}

func (h *Heap) lookup(v Value) *object {
	address := v.Address()
	owner := h
	if address&constantAddressBit != 0 && !h.constant {
		owner = h.constants
		if owner == nil {
			panic("vm: constant address in a heap without constants")
		}
	}
	o, ok := owner.objects[address]
	if !ok {
		panic("vm: dangling heap address")
	}
	return o
}

// ---------------------------------------------------------------------------
// Reference counting
// ---------------------------------------------------------------------------

// Dup registers one additional owned reference to the value.
func (h *Heap) Dup(v Value) { h.DupBy(v, 1) }

// DupBy registers n additional owned references to the value. Inline
// values other than ports and constant objects are unaffected.
func (h *Heap) DupBy(v Value, n int) {
	if n == 0 {
		return
	}
	if v.IsPort() {
		ch := v.PortChannel()
		before := h.channelRefCounts[ch]
		h.channelRefCounts[ch] = before + n
		if before == 0 {
			h.newChannels = append(h.newChannels, ch)
		}
		return
	}
	if !v.IsPointer() || v.IsConstant() {
		return
	}
	o := h.lookup(v)
	o.refCount += uint64(n)
}

// Drop releases one owned reference to the value. When the last
// reference to a heap object goes away, its children are dropped
// recursively and the object is deallocated.
func (h *Heap) Drop(v Value) {
	if v.IsPort() {
		ch := v.PortChannel()
		count, ok := h.channelRefCounts[ch]
		if !ok {
			panic("vm: dropped a port the heap does not own")
		}
		if count == 1 {
			delete(h.channelRefCounts, ch)
			h.releasedChannels = append(h.releasedChannels, ch)
		} else {
			h.channelRefCounts[ch] = count - 1
		}
		return
	}
	if !v.IsPointer() || v.IsConstant() {
		return
	}
	o := h.lookup(v)
	if o.refCount == 0 {
		panic("vm: reference count underflow")
	}
	o.refCount--
	if o.refCount == 0 {
		// The object graph is acyclic (values only reference values
		// created before them), so this recursion terminates.
		for _, child := range o.appendChildren(nil) {
			h.Drop(child)
		}
		delete(h.objects, v.Address())
	}
}

// DropAll releases one reference to each value.
func (h *Heap) DropAll(vs []Value) {
	for _, v := range vs {
		h.Drop(v)
	}
}

// RefCount returns the current reference count of a heap object.
// Constant objects report zero.
func (h *Heap) RefCount(v Value) uint64 {
	return h.lookup(v).refCount
}

// ---------------------------------------------------------------------------
// Channel bookkeeping
// ---------------------------------------------------------------------------

// TakeChannelTransitions returns the channels that gained their first
// reference in this heap and those that lost their last one since the
// previous call, and resets both lists.
func (h *Heap) TakeChannelTransitions() (created, released []ChannelID) {
	created, released = h.newChannels, h.releasedChannels
	h.newChannels, h.releasedChannels = nil, nil
	return created, released
}

// KnownChannels returns the channels this heap currently references.
func (h *Heap) KnownChannels() []ChannelID {
	channels := make([]ChannelID, 0, len(h.channelRefCounts))
	for ch := range h.channelRefCounts {
		channels = append(channels, ch)
	}
	return channels
}

// ReleaseAllChannels drops every port reference the heap still holds.
// Called when a fiber's heap is torn down.
func (h *Heap) ReleaseAllChannels() []ChannelID {
	released := h.KnownChannels()
	h.channelRefCounts = make(map[ChannelID]int)
	h.releasedChannels = append(h.releasedChannels, released...)
	return released
}

// ---------------------------------------------------------------------------
// Deep cloning
// ---------------------------------------------------------------------------

// CloneTo deep-clones the value's subgraph into dst and returns the
// corresponding value there. Structural sharing is preserved: every
// source object is cloned at most once. The source heap keeps its
// references; the destination gains its own.
func (h *Heap) CloneTo(dst *Heap, v Value) Value {
	return h.cloneWithMapping(dst, v, make(map[uint64]Value))
}

// CloneManyTo clones several values with a shared mapping, so sharing
// between them is preserved in the destination.
func (h *Heap) CloneManyTo(dst *Heap, vs []Value) []Value {
	mapping := make(map[uint64]Value)
	clones := make([]Value, len(vs))
	for i, v := range vs {
		clones[i] = h.cloneWithMapping(dst, v, mapping)
	}
	return clones
}

func (h *Heap) cloneWithMapping(dst *Heap, v Value, mapping map[uint64]Value) Value {
	if v.IsPort() {
		dst.DupBy(v, 1)
		return v
	}
	if !v.IsPointer() {
		return v
	}
	if v.IsConstant() {
		// Constant objects are shared, never cloned.
		return v
	}
	if clone, ok := mapping[v.Address()]; ok {
		dst.Dup(clone)
		return clone
	}

	o := h.lookup(v)
	var clone Value
	switch o.kind() {
	case ObjectInt:
		clone = dst.allocate(&object{header: o.header, big: o.big})
	case ObjectText:
		clone = dst.allocate(&object{header: o.header, text: o.text})
	case ObjectLocation:
		clone = dst.allocate(&object{header: o.header, location: o.location})
	case ObjectTag:
		payload := h.cloneWithMapping(dst, o.tagValue, mapping)
		clone = dst.allocate(&object{header: o.header, symbol: o.symbol, tagValue: payload})
	case ObjectList, ObjectFunction:
		items := make([]Value, len(o.items))
		for i, item := range o.items {
			items[i] = h.cloneWithMapping(dst, item, mapping)
		}
		clone = dst.allocate(&object{
			header:   o.header,
			items:    items,
			argCount: o.argCount,
			body:     o.body,
		})
	case ObjectStruct:
		keys := make([]Value, len(o.keys))
		values := make([]Value, len(o.values))
		for i := range o.keys {
			keys[i] = h.cloneWithMapping(dst, o.keys[i], mapping)
			values[i] = h.cloneWithMapping(dst, o.values[i], mapping)
		}
		hashes := make([]uint64, len(o.hashes))
		copy(hashes, o.hashes)
		clone = dst.allocate(&object{
			header: o.header,
			hashes: hashes,
			keys:   keys,
			values: values,
		})
	default:
		panic("vm: unknown object kind")
	}
	mapping[v.Address()] = clone
	return clone
}

// ---------------------------------------------------------------------------
// Packets
// ---------------------------------------------------------------------------

// Packet is a self-contained value: a heap holding exactly the
// subgraph the value references. Packets are how values travel between
// fibers and across channels.
type Packet struct {
	Heap  *Heap
	Value Value
}

// PacketFrom clones the value into a fresh heap, producing a packet
// that shares nothing with the source heap except constants.
func PacketFrom(source *Heap, v Value) Packet {
	dst := NewHeap(source.symbols, source.constants)
	return Packet{Heap: dst, Value: source.CloneTo(dst, v)}
}

// UnpackInto clones the packet's value into the destination heap and
// releases the packet's own references.
func (p Packet) UnpackInto(dst *Heap) Value {
	v := p.Heap.CloneTo(dst, p.Value)
	p.Heap.Drop(p.Value)
	return v
}
