// Package jobs tracks the shell's jobs and the process-wide state shared
// between the prompt loop and the signal-handling goroutine: the active
// foreground child, the shell exit code, and ownership of the terminal.
package jobs

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/mash-shell/mash/internal/job"
)

// Reserved shell exit codes.
const (
	CodeIOFailure   = 125 // redirection open failure
	CodeForkFailure = 126 // process start failure
	CodeExecFailure = 127 // command not found / exec failure
	CodeInterrupt   = 130 // 128 + SIGINT
)

// Registry owns the background job list and the shell's job-control state.
// The mutex covers the job table; the atomic cells are the only state
// touched from both the reaping goroutine and the main flow.
type Registry struct {
	mu   sync.Mutex
	jobs map[int]*job.Job
	next int

	// Interactive is true when the shell controls a terminal. Fixed at
	// startup.
	Interactive bool

	// Terminal is the controlling terminal's descriptor.
	Terminal int

	// ShellPgid is the shell's own process group, the one the terminal
	// returns to between foreground jobs.
	ShellPgid int

	// Out receives user-facing job notices.
	Out io.Writer

	activeChild  atomic.Int64
	activeStatus atomic.Int32
	exitCode     atomic.Int32
}

// New builds a registry around the given terminal descriptor. interactive
// overrides terminal detection when non-nil.
func New(terminal int, interactive *bool) *Registry {
	r := &Registry{
		jobs:      make(map[int]*job.Job),
		next:      1,
		Terminal:  terminal,
		ShellPgid: unix.Getpgrp(),
		Out:       os.Stdout,
	}
	if interactive != nil {
		r.Interactive = *interactive
	} else {
		r.Interactive = term.IsTerminal(terminal)
	}
	return r
}

// ActiveChild returns the pid of the currently-awaited foreground child,
// or 0 when none is tracked.
func (r *Registry) ActiveChild() int {
	return int(r.activeChild.Load())
}

// SetActiveChild records the pid the foreground wait is blocked on and
// discards any status parked for a previous child, so a stale status can
// never be mistaken for the new child's.
func (r *Registry) SetActiveChild(pid int) {
	r.activeStatus.Store(0)
	r.activeChild.Store(int64(pid))
}

// ResetActiveChild clears the tracked foreground child.
func (r *Registry) ResetActiveChild() {
	r.activeChild.Store(0)
}

// CollectActiveChild records the status the reaper observed for the
// active child and clears the tracking slot. The blocked foreground wait
// picks the status up when its own wait reports ECHILD.
func (r *Registry) CollectActiveChild(status int) {
	r.activeStatus.Store(int32(status))
	r.activeChild.Store(0)
}

// ExitCode returns the process-wide exit-code cell, settable by builtins
// and the interrupt path.
func (r *Registry) ExitCode() int {
	return int(r.exitCode.Load())
}

// SetExitCode stores the process-wide exit code.
func (r *Registry) SetExitCode(code int) {
	r.exitCode.Store(int32(code))
}

// Add registers j as a tracked job and returns its job number. Adding an
// already-tracked job returns its existing number.
func (r *Registry) Add(j *job.Job) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if num := r.numberLocked(j); num != 0 {
		return num
	}
	num := r.next
	r.next++
	r.jobs[num] = j
	return num
}

// Number returns the job number for j, or 0 if untracked.
func (r *Registry) Number(j *job.Job) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.numberLocked(j)
}

func (r *Registry) numberLocked(j *job.Job) int {
	for num, tracked := range r.jobs {
		if tracked == j {
			return num
		}
	}
	return 0
}

// Find returns the tracked job with the given number.
func (r *Registry) Find(num int) (*job.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[num]
	return j, ok
}

// Current returns the most recently added tracked job.
func (r *Registry) Current() (*job.Job, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	best := 0
	for num := range r.jobs {
		if num > best {
			best = num
		}
	}
	if best == 0 {
		return nil, 0, false
	}
	return r.jobs[best], best, true
}

// Numbers returns the tracked job numbers in ascending order.
func (r *Registry) Numbers() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	nums := make([]int, 0, len(r.jobs))
	for num := range r.jobs {
		nums = append(nums, num)
	}
	sort.Ints(nums)
	return nums
}

// TrackedPids returns the pid of every tracked stage that has not yet
// completed, in ascending order.
func (r *Registry) TrackedPids() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pids []int
	for _, j := range r.jobs {
		for _, p := range j.Procs {
			if !p.Completed && p.Pid > 0 {
				pids = append(pids, p.Pid)
			}
		}
	}
	sort.Ints(pids)
	return pids
}

// RemoveBackground marks the stage with the given pid completed. When
// that completes its whole job, the job is retired from the table and
// its number returned with done=true. Unknown pids report done=false.
func (r *Registry) RemoveBackground(pid, status int) (num int, done bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for n, j := range r.jobs {
		p := j.Proc(pid)
		if p == nil {
			continue
		}
		p.Completed = true
		p.ExitCode = status
		if j.Completed() {
			delete(r.jobs, n)
			return n, true
		}
		return n, false
	}
	return 0, false
}

// MarkStopped flags the job owning pid as stopped, if tracked.
func (r *Registry) MarkStopped(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.Contains(pid) {
			j.Stopped = true
			return
		}
	}
}

// FormatJobInfo renders the one-line status notice for j.
func (r *Registry) FormatJobInfo(j *job.Job, message string) string {
	return fmt.Sprintf("[%d] %s\t%s", r.Number(j), message, j.Line)
}

// SendToBackground tracks j as a background job. With resume set, the
// job's process group is continued first.
func (r *Registry) SendToBackground(j *job.Job, resume bool) int {
	if resume && j.Pgid > 0 {
		j.Stopped = false
		_ = unix.Kill(-j.Pgid, unix.SIGCONT)
	}
	j.Background = true
	return r.Add(j)
}

// SendToForeground hands the terminal to j, optionally continues it, and
// blocks until it completes or stops. The terminal returns to the shell
// either way. A job that stops is kept tracked so fg/bg can find it.
func (r *Registry) SendToForeground(j *job.Job, resume bool) int {
	j.Background = false
	_ = r.GiveTerminal(j.Pgid)
	if resume && j.Pgid > 0 {
		j.Stopped = false
		_ = unix.Kill(-j.Pgid, unix.SIGCONT)
	}
	status := r.WaitForJob(j)
	_ = r.GiveTerminal(r.ShellPgid)
	if j.Stopped {
		r.Add(j)
		fmt.Fprintln(r.Out, r.FormatJobInfo(j, "stopped"))
	} else {
		r.retire(j)
	}
	return status
}

func (r *Registry) retire(j *job.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if num := r.numberLocked(j); num != 0 {
		delete(r.jobs, num)
	}
}

// WaitForJob blocks until every stage of j completes or the job stops.
// It returns the exit status of the last stage. The reaping goroutine can
// win the race for any child; the active-child protocol recovers the
// status when that happens.
func (r *Registry) WaitForJob(j *job.Job) int {
	status := 0
	for _, p := range j.Procs {
		if p.Completed {
			status = p.ExitCode
			continue
		}
		if p.Pid <= 0 {
			continue
		}
		status = r.waitProc(j, p)
		if j.Stopped {
			break
		}
	}
	return status
}

func (r *Registry) waitProc(j *job.Job, p *job.Process) int {
	r.SetActiveChild(p.Pid)
	defer r.ResetActiveChild()
	for {
		var ws unix.WaitStatus
		wpid, err := unix.Wait4(p.Pid, &ws, unix.WUNTRACED, nil)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.ECHILD:
			// Reaped by the signal path; it parked the status for us.
			p.Completed = true
			p.ExitCode = int(r.activeStatus.Load())
			return p.ExitCode
		case err != nil:
			p.Completed = true
			p.ExitCode = CodeForkFailure
			return p.ExitCode
		case wpid != p.Pid:
			continue
		case ws.Stopped():
			j.Stopped = true
			return 128 + int(ws.StopSignal())
		default:
			p.Completed = true
			p.ExitCode = StatusCode(ws)
			return p.ExitCode
		}
	}
}

// StatusCode converts a wait status into a shell exit code: the exit
// status for normal exits, 128+signal for signal deaths.
func StatusCode(ws unix.WaitStatus) int {
	switch {
	case ws.Exited():
		return ws.ExitStatus()
	case ws.Signaled():
		return 128 + int(ws.Signal())
	case ws.Stopped():
		return 128 + int(ws.StopSignal())
	default:
		return 0
	}
}
