package vm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ---------------------------------------------------------------------------
// Module use
// ---------------------------------------------------------------------------
//
// A use path is one or more leading dots followed by a name: one dot
// imports a child of the current module, each additional dot steps
// one module level up (two dots name a sibling). A name with a file
// extension resolves to an asset module whose raw bytes become a list
// of byte ints; otherwise it names a code module whose body evaluates
// to its exports.

// UsePath is a parsed relative import path.
type UsePath struct {
	ParentNavigations int
	Name              string
}

// ParseUsePath parses the text form of a use path. Two leading dots
// mean one parent navigation.
func ParseUsePath(text string) (UsePath, error) {
	dots := 0
	for dots < len(text) && text[dots] == '.' {
		dots++
	}
	name := text[dots:]
	if dots == 0 {
		return UsePath{}, fmt.Errorf("use path %q must start with a dot", text)
	}
	if name == "" {
		return UsePath{}, fmt.Errorf("use path %q has no module name", text)
	}
	for _, c := range name {
		if !isUsePathNameChar(c) {
			return UsePath{}, fmt.Errorf("use path %q may only contain letters, digits, and dots", text)
		}
	}
	return UsePath{ParentNavigations: dots - 1, Name: name}, nil
}

func isUsePathNameChar(c rune) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '.'
}

// IsAsset reports whether the path names an asset module (the name
// carries a file extension).
func (p UsePath) IsAsset() bool {
	return strings.Contains(p.Name, ".")
}

// ResolveRelativeTo turns the relative path into a module name.
// Module names are slash-separated segments from the package root;
// zero navigations name a child of the current module.
func (p UsePath) ResolveRelativeTo(current string) (string, error) {
	segments := strings.Split(current, "/")
	if p.ParentNavigations > len(segments) {
		return "", fmt.Errorf("use path navigates above the package root")
	}
	base := segments[:len(segments)-p.ParentNavigations]
	return strings.Join(append(append([]string{}, base...), p.Name), "/"), nil
}

// ModuleKind distinguishes code modules from asset modules.
type ModuleKind uint8

const (
	ModuleKindCode ModuleKind = iota
	ModuleKindAsset
)

// UseResult is what importing a module yields.
type UseResult struct {
	Kind  ModuleKind
	Body  CodeRange // code: body range within the running program
	Bytes []byte    // asset: raw content
}

// UseProvider resolves module names to their content. Resolution
// state is explicit: providers are constructed with whatever roots
// they need and passed to the VM, never read from globals.
type UseProvider interface {
	UseModule(module string) (UseResult, error)
}

// ModuleResolver is the standard provider: code modules come from the
// program's module table, asset modules from files under AssetRoot.
type ModuleResolver struct {
	Program *Program
	// AssetRoot is the directory asset modules are read from. Empty
	// disables asset modules.
	AssetRoot string
}

func (r *ModuleResolver) UseModule(module string) (UseResult, error) {
	name := module[strings.LastIndex(module, "/")+1:]
	if strings.Contains(name, ".") {
		if r.AssetRoot == "" {
			return UseResult{}, fmt.Errorf("no asset root configured")
		}
		path := filepath.Join(r.AssetRoot, filepath.FromSlash(module))
		bytes, err := os.ReadFile(path)
		if err != nil {
			return UseResult{}, fmt.Errorf("reading asset module: %w", err)
		}
		return UseResult{Kind: ModuleKindAsset, Bytes: bytes}, nil
	}
	body, ok := r.Program.ModuleBodies[module]
	if !ok {
		return UseResult{}, fmt.Errorf("module %q not in program", module)
	}
	return UseResult{Kind: ModuleKindCode, Body: body}, nil
}

// InMemoryUseProvider serves modules from a map; used in tests.
type InMemoryUseProvider struct {
	Modules map[string]UseResult
}

func (p *InMemoryUseProvider) UseModule(module string) (UseResult, error) {
	result, ok := p.Modules[module]
	if !ok {
		return UseResult{}, fmt.Errorf("module %q not found", module)
	}
	return result, nil
}

// useModule implements the useModule instruction. The path value and
// responsible value are owned.
func (f *Fiber) useModule(currentModule string, path, responsible Value) {
	location := f.responsibleLocation(responsible)
	if !f.heap.IsText(path) {
		f.heap.Drop(path)
		f.heap.Drop(responsible)
		f.panic("The path has to be a text.", location)
		return
	}
	pathText := f.heap.TextValue(path)
	f.heap.Drop(path)
	f.heap.Drop(responsible)

	importFailed := func() {
		f.panic(fmt.Sprintf("`use` couldn't import the module `%s`.", pathText), location)
	}

	parsed, err := ParseUsePath(pathText)
	if err != nil {
		importFailed()
		return
	}
	module, err := parsed.ResolveRelativeTo(currentModule)
	if err != nil {
		importFailed()
		return
	}
	if f.useProvider == nil {
		importFailed()
		return
	}
	result, err := f.useProvider.UseModule(module)
	if err != nil {
		importFailed()
		return
	}

	switch result.Kind {
	case ModuleKindAsset:
		items := make([]Value, len(result.Bytes))
		for i, b := range result.Bytes {
			items[i] = f.heap.CreateIntFromInt64(int64(b))
		}
		f.push(f.heap.CreateList(items))
	case ModuleKindCode:
		// Execute the module body like a parameterless call; its
		// return value is the module's exports.
		f.callStack = append(f.callStack, f.ip)
		f.ip = result.Body.Start
	default:
		panic("vm: unknown module kind")
	}
}
