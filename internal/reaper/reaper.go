// Package reaper collects terminated and stopped children asynchronously.
// Signals are delivered to a channel-fed goroutine, so everything here
// runs as ordinary Go code rather than in a signal-delivery context.
package reaper

import (
	"fmt"
	"io"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/mash-shell/mash/internal/jobs"
)

// Reaper owns the shell's signal handling: interrupt, terminal quit, and
// child status changes.
type Reaper struct {
	reg        *jobs.Registry
	out        io.Writer
	notify     bool
	sigs       chan os.Signal
	interrupts chan struct{}
	quit       chan struct{}
}

// Start installs the handlers and begins dispatching. notify controls
// whether background completions are announced.
func Start(reg *jobs.Registry, out io.Writer, notify bool) *Reaper {
	r := &Reaper{
		reg:        reg,
		out:        out,
		notify:     notify,
		sigs:       make(chan os.Signal, 16),
		interrupts: make(chan struct{}, 1),
		quit:       make(chan struct{}),
	}
	signal.Notify(r.sigs, unix.SIGINT, unix.SIGQUIT, unix.SIGCHLD)
	if reg.Interactive {
		// Handled (and dropped) rather than set to SIG_IGN: an ignore
		// disposition would survive exec and leave children immune to
		// job-control stops.
		signal.Notify(r.sigs, unix.SIGTSTP, unix.SIGTTIN, unix.SIGTTOU)
	}
	go r.loop()
	return r
}

// Interrupts delivers one token per SIGINT. The prompt loop selects on it
// to abandon whatever it was doing and redraw; this is the shell's only
// cancellation path back to the prompt.
func (r *Reaper) Interrupts() <-chan struct{} {
	return r.interrupts
}

// Stop uninstalls the handlers and ends the dispatch goroutine.
func (r *Reaper) Stop() {
	signal.Stop(r.sigs)
	close(r.quit)
}

func (r *Reaper) loop() {
	for {
		select {
		case <-r.quit:
			return
		case sig := <-r.sigs:
			switch sig {
			case unix.SIGINT:
				r.reg.SetExitCode(jobs.CodeInterrupt)
				fmt.Fprintln(r.out)
				select {
				case r.interrupts <- struct{}{}:
				default:
				}
			case unix.SIGQUIT:
				fmt.Fprintln(r.out, "Quit (core dumped)")
			case unix.SIGCHLD:
				r.Reap()
			}
		}
	}
}

// Reap polls for terminated children without blocking, looping until
// nothing is pending, then probes tracked jobs for stops. The active
// (foreground) child's termination is handed back to the blocked wait
// through the registry; everything else belongs to background jobs and
// is reported here.
//
// The terminated-only drain deliberately omits WUNTRACED: a stop status
// pulled through a pid -1 wait here would be consumed before the
// foreground wait could see it, leaving the shell blocked on a child
// that is alive and stopped. Stops instead stay queued for whichever
// wait names the pid: the foreground wait for the active child,
// reapStopped for everything tracked.
func (r *Reaper) Reap() {
	first := true
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		switch {
		case err == unix.EINTR:
			continue
		case err != nil:
			// No children at all. On the first pass the SIGCHLD being
			// handled can only have come from the active child, already
			// collected by the foreground wait.
			if first {
				r.reg.ResetActiveChild()
			}
			return
		case pid == 0:
			// Terminations drained; anything left pending is a stop.
			r.reapStopped()
			return
		case pid == r.reg.ActiveChild():
			r.reg.CollectActiveChild(jobs.StatusCode(ws))
			first = false
		default:
			num, done := r.reg.RemoveBackground(pid, jobs.StatusCode(ws))
			if done && r.notify {
				fmt.Fprintf(r.out, "[%d] completed. Exit: %d\n", num, jobs.StatusCode(ws))
			}
			first = false
		}
	}
}

// reapStopped probes each tracked, unfinished child for a stop. The
// active child is skipped: its stop must reach the blocked foreground
// wait, the only place that can both record the stop and unblock the
// prompt.
func (r *Reaper) reapStopped() {
	active := r.reg.ActiveChild()
	for _, pid := range r.reg.TrackedPids() {
		if pid == active {
			continue
		}
		var ws unix.WaitStatus
		wpid, err := unix.Wait4(pid, &ws, unix.WNOHANG|unix.WUNTRACED, nil)
		if err != nil || wpid != pid {
			continue
		}
		if ws.Stopped() {
			r.reg.MarkStopped(pid)
			continue
		}
		// Terminated between the drain and this probe.
		num, done := r.reg.RemoveBackground(pid, jobs.StatusCode(ws))
		if done && r.notify {
			fmt.Fprintf(r.out, "[%d] completed. Exit: %d\n", num, jobs.StatusCode(ws))
		}
	}
}
