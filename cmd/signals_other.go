//go:build !unix

package main

import "os"

var (
	shutdownSignals = []os.Signal{os.Interrupt}
	snapshotSignals []os.Signal
)

func isSnapshotSignal(os.Signal) bool { return false }
