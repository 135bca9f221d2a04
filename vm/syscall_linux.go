//go:build linux

package vm

import "golang.org/x/sys/unix"

// NativeSyscalls issues real Linux syscalls with the six-argument calling
// convention. The call blocks the VM until the kernel returns.
var NativeSyscalls SyscallHandler = SyscallFunc(func(trap uintptr, a SyscallArgs) (int64, error) {
	r1, _, errno := unix.Syscall6(trap, a[0], a[1], a[2], a[3], a[4], a[5])
	if errno != 0 {
		return -int64(errno), nil
	}
	return int64(r1), nil
})
