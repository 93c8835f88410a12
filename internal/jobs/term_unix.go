//go:build unix

package jobs

import "golang.org/x/sys/unix"

// GiveTerminal transfers foreground ownership of the controlling terminal
// to the given process group. It is a no-op for non-interactive shells.
func (r *Registry) GiveTerminal(pgid int) error {
	if !r.Interactive || pgid <= 0 {
		return nil
	}
	return unix.IoctlSetPointerInt(r.Terminal, unix.TIOCSPGRP, pgid)
}
