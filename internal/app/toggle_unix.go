//go:build !windows

package app

import (
	"os"
	"syscall"
)

var alertToggleSignals = []os.Signal{syscall.SIGUSR1}
