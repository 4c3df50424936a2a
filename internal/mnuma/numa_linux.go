//go:build linux

package mnuma

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// CurrentNode returns the NUMA node the calling goroutine's underlying
// thread is currently scheduled on. Best-effort: goroutines migrate
// between OS threads, so this is a hint used to pick a same-node arena,
// never a correctness requirement.
func CurrentNode() int {
	var cpu, node uint32
	_, _, errno := unix.Syscall(unix.SYS_GETCPU, uintptr(unsafe.Pointer(&cpu)), uintptr(unsafe.Pointer(&node)), 0)
	if errno != 0 {
		return 0
	}
	return int(node)
}
