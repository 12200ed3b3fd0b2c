//go:build !windows

package main

import (
	"os"
	"syscall"
)

// terminationSignals are the signals that trigger a graceful shutdown.
// SIGTERM is what systemd and kubernetes send to request one.
var terminationSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
