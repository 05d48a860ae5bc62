// Toffee CLI - runs and inspects Toffee program images
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/tliron/commonlog"

	"github.com/toffeelang/toffee/manifest"
	"github.com/toffeelang/toffee/vm"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	switch args[0] {
	case "run":
		os.Exit(cmdRun(args[1:]))
	case "inspect":
		os.Exit(cmdInspect(args[1:]))
	case "deps":
		os.Exit(cmdDeps(args[1:]))
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", args[0])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: toffee <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  run [image.tfb] [args...]   Run a program image\n")
	fmt.Fprintf(os.Stderr, "  inspect [image.tfb]         Show the contents of a program image\n")
	fmt.Fprintf(os.Stderr, "  deps                        Resolve the dependencies in toffee.toml\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  toffee run app.tfb                # Run app.tfb\n")
	fmt.Fprintf(os.Stderr, "  toffee run --trace app.tfb        # Run with execution tracing\n")
	fmt.Fprintf(os.Stderr, "  toffee run                        # Run the image named by toffee.toml\n")
	fmt.Fprintf(os.Stderr, "  toffee inspect app.tfb            # Disassemble app.tfb\n")
}

// loadImage reads a program image, falling back to the manifest's
// image output when no path is given. The second result is the
// manifest's asset directory, when a manifest was consulted.
func loadImage(path string) (*vm.Program, string, error) {
	assetRoot := ""
	if path == "" {
		m, err := manifest.FindAndLoad(".")
		if err != nil {
			return nil, "", err
		}
		if m == nil {
			return nil, "", fmt.Errorf("no image path given and no toffee.toml found")
		}
		path = m.ImageOutputPath()
		assetRoot = m.AssetDirPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	program, err := vm.ReadProgram(data)
	return program, assetRoot, err
}

// panicRecorder remembers which fiber panicked first so the stack
// tracer can be asked for the right stack afterwards.
type panicRecorder struct {
	vm.NilTracer
	fiber vm.FiberID
}

func (r *panicRecorder) FiberPanicked(fiber, child vm.FiberID) {
	if r.fiber == vm.NoFiber {
		r.fiber = fiber
	}
}

func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	trace := fs.Bool("trace", false, "Log fiber and call events while running")
	budget := fs.Int("budget", 0, "Abort after this many instructions (0 = unlimited)")
	assetRoot := fs.String("assets", "", "Directory asset modules are read from")
	fs.Parse(args)

	if *trace {
		commonlog.Configure(2, nil)
	} else {
		commonlog.Configure(0, nil)
	}

	imagePath := ""
	programArgs := fs.Args()
	if len(programArgs) > 0 {
		imagePath = programArgs[0]
		programArgs = programArgs[1:]
	}

	program, manifestAssets, err := loadImage(imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *assetRoot == "" {
		*assetRoot = manifestAssets
	}

	stacks := vm.NewStackTracer()
	recorder := &panicRecorder{}
	tracers := []vm.Tracer{stacks, recorder}
	if *trace {
		tracers = append(tracers, vm.NewLogTracer())
	}

	options := vm.Options{
		Tracer:      &vm.CompoundTracer{Tracers: tracers},
		UseProvider: &vm.ModuleResolver{Program: program, AssetRoot: *assetRoot},
		Printer: func(text string) {
			fmt.Println(text)
		},
	}

	// First pass: evaluate the entry module to get its exports.
	moduleVM := vm.NewVMForModule(program, options)
	if status := runToEnd(moduleVM, *budget); status != vm.VMDone {
		return reportFailure(moduleVM, stacks, recorder, status)
	}
	exports := moduleVM.Result()

	main, ok := exports.Heap.StructGet(exports.Value, vm.TagToValue(vm.SymbolMain))
	if !ok {
		// A program without a main function is just a module
		// evaluation; print the exports and stop.
		fmt.Println(vm.ToDebugText(exports.Heap, exports.Value, vm.DebugTextUnlimited))
		return 0
	}
	mainPacket := vm.PacketFrom(exports.Heap, main)

	// Second pass: call main with the environment.
	recorder.fiber = vm.NoFiber
	mainVM, environment := vm.NewVMForMain(program, mainPacket, programArgs, options)
	status := serveEnvironment(mainVM, environment, *budget)
	if status != vm.VMDone {
		return reportFailure(mainVM, stacks, recorder, status)
	}

	// If main returns a small integer, use it as exit code.
	result := mainVM.Result()
	if result.Value.IsInlineInt() {
		return int(result.Value.InlineIntValue())
	}
	return 0
}

// runToEnd drives a VM until it terminates or exceeds the budget.
func runToEnd(machine *vm.VM, budget int) vm.VMStatus {
	if budget > 0 {
		machine.Run(&vm.CountingController{Budget: budget})
		return machine.Status()
	}
	return machine.RunUntilTerminated()
}

// serveEnvironment drives the main VM while relaying its stdout
// channel to the terminal and its stdin channel from the terminal.
func serveEnvironment(machine *vm.VM, environment vm.MainEnvironment, budget int) vm.VMStatus {
	stdin := bufio.NewScanner(os.Stdin)
	stdinOpen := true
	pendingStdout, _ := machine.ReceiveExternal(environment.Stdout)

	for {
		machine.Run(&vm.CountingController{Budget: 10_000})
		status := machine.Status()
		if status == vm.VMDone || status == vm.VMPanicked {
			machine.ReleaseChannel(environment.Stdout)
			machine.ReleaseChannel(environment.Stdin)
			return status
		}

		progressed := false
		if packet, ok := machine.PollOperation(pendingStdout); ok {
			if packet.Heap != nil && packet.Heap.IsText(packet.Value) {
				fmt.Println(packet.Heap.TextValue(packet.Value))
			}
			if packet.Heap != nil {
				packet.Heap.Drop(packet.Value)
			}
			pendingStdout, _ = machine.ReceiveExternal(environment.Stdout)
			progressed = true
		}

		if status == vm.VMWaitingForOperations && !progressed {
			// Nothing to print; the program may be blocked reading
			// stdin.
			if stdinOpen && stdin.Scan() {
				h := machine.NewPacketHeap()
				line := h.CreateText(stdin.Text())
				machine.SendExternal(environment.Stdin, vm.Packet{Heap: h, Value: line})
				continue
			}
			stdinOpen = false
			machine.ReleaseChannel(environment.Stdout)
			machine.ReleaseChannel(environment.Stdin)
			ended := machine.TearDown()
			return ended.Status
		}
	}
}

func reportFailure(machine *vm.VM, stacks *vm.StackTracer, recorder *panicRecorder, status vm.VMStatus) int {
	switch status {
	case vm.VMPanicked:
		info := machine.Panic()
		fmt.Fprintf(os.Stderr, "The program panicked: %s\n", info.Reason)
		fmt.Fprintf(os.Stderr, "%s is responsible.\n", info.Responsible)
		if recorder.fiber != vm.NoFiber {
			if stack := stacks.FormatStack(recorder.fiber); stack != "" {
				fmt.Fprintf(os.Stderr, "\nThis is the stack:\n%s\n", stack)
			}
		}
		return 70
	default:
		fmt.Fprintf(os.Stderr, "The program did not finish (status: %s).\n", status)
		return 1
	}
}

func cmdInspect(args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	fs.Parse(args)

	imagePath := ""
	if fs.NArg() > 0 {
		imagePath = fs.Arg(0)
	}
	program, _, err := loadImage(imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Printf("entry module: %s\n", program.EntryModule)
	fmt.Printf("entry:        %s\n", program.Entry)
	fmt.Printf("symbols:      %d\n", program.Symbols.Len())
	fmt.Printf("constants:    %d\n", program.Constants.ObjectCount())
	fmt.Printf("instructions: %d\n", len(program.Instructions))

	if len(program.ModuleBodies) > 0 {
		names := make([]string, 0, len(program.ModuleBodies))
		for name := range program.ModuleBodies {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Println("\nmodules:")
		for _, name := range names {
			fmt.Printf("  %-30s %s\n", name, program.ModuleBodies[name])
		}
	}

	fmt.Println("\ncode:")
	for i, in := range program.Instructions {
		fmt.Printf("  %4d  %s\n", i, in)
	}
	return 0
}

func cmdDeps(args []string) int {
	fs := flag.NewFlagSet("deps", flag.ExitOnError)
	verbose := fs.Bool("v", false, "Verbose output")
	fs.Parse(args)

	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if m == nil {
		fmt.Fprintln(os.Stderr, "No toffee.toml found.")
		return 1
	}

	resolved, err := manifest.NewResolver(m, *verbose).Resolve()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	for _, dep := range resolved {
		fmt.Printf("%-20s %-20s %s\n", dep.Name, dep.ModuleRoot, dep.LocalPath)
	}
	return 0
}
