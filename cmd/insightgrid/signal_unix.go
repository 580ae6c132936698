//go:build !windows

package main

import (
	"os"
	"syscall"
)

// terminationSignals are the signals on which the server drains and
// exits. SIGTERM covers systemd and container orchestrators, the
// interrupt covers Ctrl+C.
var terminationSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
