package integration_test

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/toffeelang/toffee/manifest"
	"github.com/toffeelang/toffee/vm"
)

// ---------------------------------------------------------------------------
// End-to-end tests across package boundaries: program construction,
// image round trip, manifest discovery, and execution under the
// scheduler, the way cmd/toffee drives them.
// ---------------------------------------------------------------------------

// mainProgram builds a program whose entry module exports
// [Main: fn], where the function returns the grapheme length of the
// first program argument.
func mainProgram(t *testing.T) *vm.Program {
	t.Helper()
	p := vm.NewProgram()
	p.EntryModule = "main"
	p.Instructions = []vm.Instruction{
		// entry module body: [Main: fn]
		{Op: vm.OpCreateTag, Symbol: vm.SymbolMain},                                   // 0
		{Op: vm.OpCreateFunction, ArgCount: 1, Body: vm.CodeRange{Start: 4, End: 19}}, // 1
		{Op: vm.OpCreateStruct, Count: 1},                                             // 2
		{Op: vm.OpReturn},                                                             // 3
		// main body: textLength(listGet(structGet(env, Arguments), 0)).
		// Frame: [env, resp].
		{Op: vm.OpCreateBuiltin, Builtin: vm.BuiltinStructGet},  // 4
		{Op: vm.OpPushFromStack, Offset: 2},                     // 5: env
		{Op: vm.OpCreateTag, Symbol: vm.SymbolArguments},        // 6
		{Op: vm.OpPushFromStack, Offset: 3},                     // 7: resp
		{Op: vm.OpCall, ArgCount: 2},                            // 8: [env, resp, list]
		{Op: vm.OpCreateBuiltin, Builtin: vm.BuiltinListGet},    // 9
		{Op: vm.OpPushFromStack, Offset: 1},                     // 10: list
		{Op: vm.OpCreateInt, Int: big.NewInt(0)},                // 11
		{Op: vm.OpPushFromStack, Offset: 4},                     // 12: resp
		{Op: vm.OpCall, ArgCount: 2},                            // 13: [env, resp, list, text]
		{Op: vm.OpCreateBuiltin, Builtin: vm.BuiltinTextLength}, // 14
		{Op: vm.OpPushFromStack, Offset: 1},                     // 15: text
		{Op: vm.OpPushFromStack, Offset: 4},                     // 16: resp
		{Op: vm.OpTailCall, ArgCount: 1, Count: 4},              // 17
		{Op: vm.OpReturn},                                       // 18: unreachable
	}
	p.Entry = vm.CodeRange{Start: 0, End: 4}
	if err := p.Validate(); err != nil {
		t.Fatalf("program does not validate: %v", err)
	}
	return p
}

// Builds a program, writes it to an image file, reads it back, and
// runs it end to end: module evaluation, Main extraction, then the
// main function against real arguments.
func TestImageRoundTripMainProgram(t *testing.T) {
	image, err := vm.WriteProgram(mainProgram(t))
	if err != nil {
		t.Fatalf("WriteProgram: %v", err)
	}
	path := filepath.Join(t.TempDir(), "app.tfb")
	if err := os.WriteFile(path, image, 0o644); err != nil {
		t.Fatalf("writing image: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading image: %v", err)
	}
	program, err := vm.ReadProgram(data)
	if err != nil {
		t.Fatalf("ReadProgram: %v", err)
	}
	if err := program.Validate(); err != nil {
		t.Fatalf("read program does not validate: %v", err)
	}

	moduleVM := vm.NewVMForModule(program, vm.Options{})
	if status := moduleVM.RunUntilTerminated(); status != vm.VMDone {
		t.Fatalf("module evaluation status = %s, want %s", status, vm.VMDone)
	}
	exports := moduleVM.Result()
	main, ok := exports.Heap.StructGet(exports.Value, vm.TagToValue(vm.SymbolMain))
	if !ok {
		t.Fatalf("exports carry no Main: %s",
			vm.ToDebugText(exports.Heap, exports.Value, vm.DebugTextUnlimited))
	}

	mainVM, _ := vm.NewVMForMain(program, vm.PacketFrom(exports.Heap, main),
		[]string{"hello"}, vm.Options{})
	if status := mainVM.RunUntilTerminated(); status != vm.VMDone {
		t.Fatalf("main status = %s, want %s", status, vm.VMDone)
	}
	result := mainVM.Result()
	got, ok := result.Heap.Int64Value(result.Value)
	if !ok || got != 5 {
		t.Errorf("main result = %s, want 5",
			vm.ToDebugText(result.Heap, result.Value, vm.DebugTextUnlimited))
	}
}

// A manifest in a project directory supplies the asset root that use
// paths with file extensions resolve against.
func TestAssetImportThroughManifest(t *testing.T) {
	dir := t.TempDir()
	config := []byte("[package]\nname = \"demo\"\n\n[source]\nassets = \"data\"\n")
	if err := os.WriteFile(filepath.Join(dir, "toffee.toml"), config, 0o644); err != nil {
		t.Fatalf("writing manifest: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "data"), 0o755); err != nil {
		t.Fatalf("creating asset dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "data", "blob.bin"), []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatalf("writing asset: %v", err)
	}

	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if m == nil {
		t.Fatalf("manifest not found in %s", dir)
	}

	p := vm.NewProgram()
	p.EntryModule = "main"
	p.Instructions = []vm.Instruction{
		{Op: vm.OpCreateText, Text: "..blob.bin"},
		{Op: vm.OpCreateLocation, Location: vm.Location{Module: "main"}},
		{Op: vm.OpUseModule, Text: "main"},
		{Op: vm.OpReturn},
	}
	p.Entry = vm.CodeRange{Start: 0, End: 4}
	if err := p.Validate(); err != nil {
		t.Fatalf("program does not validate: %v", err)
	}

	machine := vm.NewVMForModule(p, vm.Options{
		UseProvider: &vm.ModuleResolver{Program: p, AssetRoot: m.AssetDirPath()},
	})
	if status := machine.RunUntilTerminated(); status != vm.VMDone {
		t.Fatalf("status = %s, want %s", status, vm.VMDone)
	}
	result := machine.Result()
	if got := vm.ToDebugText(result.Heap, result.Value, vm.DebugTextUnlimited); got != "(1, 2, 3)" {
		t.Errorf("asset import = %s, want (1, 2, 3)", got)
	}
}

// A panicking program surfaces the reason and the responsible
// location, as the CLI reports them.
func TestPanicReporting(t *testing.T) {
	p := vm.NewProgram()
	p.EntryModule = "main"
	p.Instructions = []vm.Instruction{
		{Op: vm.OpCreateText, Text: "boom"},
		{Op: vm.OpCreateLocation, Location: vm.Location{Module: "main", Path: []string{"crash"}}},
		{Op: vm.OpPanic},
		{Op: vm.OpReturn},
	}
	p.Entry = vm.CodeRange{Start: 0, End: 4}
	if err := p.Validate(); err != nil {
		t.Fatalf("program does not validate: %v", err)
	}

	stacks := vm.NewStackTracer()
	machine := vm.NewVMForModule(p, vm.Options{Tracer: stacks})
	if status := machine.RunUntilTerminated(); status != vm.VMPanicked {
		t.Fatalf("status = %s, want %s", status, vm.VMPanicked)
	}
	info := machine.Panic()
	if info.Reason != "boom" {
		t.Errorf("panic reason = %q, want %q", info.Reason, "boom")
	}
	if got := info.Responsible.String(); got != "main:crash" {
		t.Errorf("responsible = %q, want %q", got, "main:crash")
	}
}
