//go:build windows

package app

import "os"

var alertToggleSignals []os.Signal
