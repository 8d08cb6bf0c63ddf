package supervisor

import "syscall"

// sysProcAttr puts the worker in its own process group. An attached worker
// is sent SIGTERM when the process that launched it dies, so it never
// outlives its host.
func sysProcAttr(detach bool) *syscall.SysProcAttr {
	if detach {
		return &syscall.SysProcAttr{Setsid: true}
	}
	return &syscall.SysProcAttr{Setpgid: true, Pdeathsig: syscall.SIGTERM}
}
