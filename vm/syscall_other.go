//go:build !linux

package vm

import (
	"fmt"
	"runtime"
)

// NativeSyscalls is unavailable outside Linux; every call is refused.
var NativeSyscalls SyscallHandler = SyscallFunc(func(trap uintptr, _ SyscallArgs) (int64, error) {
	return 0, fmt.Errorf("syscall %d: native syscalls are not supported on %s", trap, runtime.GOOS)
})
