//go:build windows

package main

import (
	"os"
)

// terminationSignals are the signals on which the server drains and
// exits. Windows only delivers the Ctrl+C interrupt reliably.
var terminationSignals = []os.Signal{os.Interrupt}
