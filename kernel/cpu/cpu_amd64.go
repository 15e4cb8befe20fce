// Package cpu exposes the processor instructions used by the memory
// management code.
package cpu

// Halt disables interrupts and stops instruction execution. It never returns.
func Halt()
