package vm

import "sync"

// ---------------------------------------------------------------------------
// SymbolTable: interned tag symbols
// ---------------------------------------------------------------------------

// SymbolID identifies an interned symbol within a SymbolTable.
type SymbolID uint32

// SymbolTable interns the symbols used by tag values. Tags compare by
// symbol ID, so all heaps of a VM share one table.
type SymbolTable struct {
	mu     sync.RWMutex
	byName map[string]SymbolID
	byID   []string
}

// Well-known symbol IDs. NewSymbolTable interns these first, in a fixed
// order, so they are stable across tables.
const (
	SymbolTrue SymbolID = iota
	SymbolFalse
	SymbolNothing
	SymbolLess
	SymbolEqual
	SymbolGreater
	SymbolOk
	SymbolError
	SymbolInt
	SymbolTag
	SymbolText
	SymbolList
	SymbolStruct
	SymbolFunction
	SymbolBuiltin
	SymbolSendPort
	SymbolReceivePort
	SymbolMain
	SymbolStdout
	SymbolStdin
	SymbolArguments
	SymbolChannel
	numWellKnownSymbols
)

var wellKnownSymbolNames = [numWellKnownSymbols]string{
	"True", "False", "Nothing", "Less", "Equal", "Greater", "Ok", "Error",
	"Int", "Tag", "Text", "List", "Struct", "Function", "Builtin",
	"SendPort", "ReceivePort", "Main", "Stdout", "Stdin", "Arguments",
	"Channel",
}

// NewSymbolTable creates a symbol table pre-populated with the
// well-known symbols.
func NewSymbolTable() *SymbolTable {
	st := &SymbolTable{
		byName: make(map[string]SymbolID, 64),
		byID:   make([]string, 0, 64),
	}
	for _, name := range wellKnownSymbolNames {
		st.Intern(name)
	}
	return st
}

// Intern returns the ID for a symbol, creating a new one if needed.
func (st *SymbolTable) Intern(name string) SymbolID {
	st.mu.RLock()
	if id, ok := st.byName[name]; ok {
		st.mu.RUnlock()
		return id
	}
	st.mu.RUnlock()

	st.mu.Lock()
	defer st.mu.Unlock()
	if id, ok := st.byName[name]; ok {
		return id
	}
	id := SymbolID(len(st.byID))
	st.byName[name] = id
	st.byID = append(st.byID, name)
	return id
}

// Name returns the string for a symbol ID.
func (st *SymbolTable) Name(id SymbolID) string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if int(id) >= len(st.byID) {
		panic("vm: unknown symbol ID")
	}
	return st.byID[id]
}

// Lookup returns the ID for a name without interning it.
func (st *SymbolTable) Lookup(name string) (SymbolID, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	id, ok := st.byName[name]
	return id, ok
}

// Len returns the number of interned symbols.
func (st *SymbolTable) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.byID)
}

// Names returns a snapshot of all interned symbols, indexed by ID.
func (st *SymbolTable) Names() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	names := make([]string, len(st.byID))
	copy(names, st.byID)
	return names
}
