package runner

import "syscall"

// deathSigAttr arranges that the child receives SIGTERM if this process
// dies.
func deathSigAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Pdeathsig: syscall.SIGTERM}
}
