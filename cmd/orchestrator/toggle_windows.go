//go:build windows

package main

import "os"

// Windows has no SIGUSR1; the daemon can only be started paused there.
func notifyPauseToggle(chan<- os.Signal) {}
