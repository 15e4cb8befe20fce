//go:build !amd64

package cpu

// Halt parks the calling goroutine forever. Architectures without an
// assembly port have no way to stop the processor.
func Halt() {
	select {}
}
