// Command memmap replays the kernel memory discovery pipeline on the host.
// It accepts either a raw multiboot2 information dump captured from a
// virtual machine or a YAML description of the firmware inputs.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
