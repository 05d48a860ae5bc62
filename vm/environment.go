package vm

// ---------------------------------------------------------------------------
// Main environment
// ---------------------------------------------------------------------------

// MainEnvironment holds the host side of a main function's
// environment: the channels the program uses to talk to the outside
// world. The host receives from Stdout and sends to Stdin, both via
// the external operation API.
type MainEnvironment struct {
	Stdout ChannelID
	Stdin  ChannelID
}

// NewVMForMain creates a VM whose root fiber calls the packed main
// function with an environment struct as its only argument. The
// struct carries the program arguments, a send port for standard
// output, and a receive port for standard input.
func NewVMForMain(program *Program, main Packet, arguments []string, options Options) (*VM, MainEnvironment) {
	vm := newVM(program, options)
	environment := MainEnvironment{
		Stdout: vm.CreateChannel(0),
		Stdin:  vm.CreateChannel(0),
	}

	h := vm.NewPacketHeap()
	argumentValues := make([]Value, len(arguments))
	for i, argument := range arguments {
		argumentValues[i] = h.CreateText(argument)
	}
	stdout := SendPortToValue(environment.Stdout)
	stdin := ReceivePortToValue(environment.Stdin)
	h.Dup(stdout)
	h.Dup(stdin)
	value := h.CreateStruct(
		[]Value{
			TagToValue(SymbolArguments),
			TagToValue(SymbolStdout),
			TagToValue(SymbolStdin),
		},
		[]Value{h.CreateList(argumentValues), stdout, stdin},
	)

	vm.rootFiber = vm.spawnFiber(func(t FiberTracer) *Fiber {
		return NewFiberRunningFunction(program, t, main, []Packet{{Heap: h, Value: value}})
	}, fiberEntry{role: roleRoot})
	vm.drainPacketHeap(main.Heap)
	vm.drainPacketHeap(h)
	vm.settleFiber(vm.rootFiber)
	return vm, environment
}
