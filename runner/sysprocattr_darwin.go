package runner

import "syscall"

// deathSigAttr is a no-op on platforms without Pdeathsig; the hypervisor
// process will not be automatically reaped if this process dies.
func deathSigAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{}
}
