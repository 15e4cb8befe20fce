package main

import "github.com/u0733159/MP2/kernel/kmain"

// physMemEnd is filled in by the rt0 code with the end of the identity mapped
// physical memory region.
var physMemEnd uintptr

// main makes a dummy call to the actual kernel main entrypoint function. It
// is intentionally defined to prevent the Go compiler from optimizing away the
// real kernel code.
//
// A global variable is passed as an argument to Kmain to prevent the compiler
// from inlining the actual call and removing Kmain from the generated .o file.
func main() {
	kmain.Kmain(physMemEnd)
}
