//go:build unix

package launch

import (
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/mash-shell/mash/internal/job"
	"github.com/mash-shell/mash/internal/jobs"
)

// sysAttr builds the spawn attributes that place the child in the job's
// process group before it execs. The first stage of an interactive
// foreground job also takes the terminal from inside the child, so the
// group owns the terminal even if it execs before the parent runs again.
func sysAttr(j *job.Job, reg *jobs.Registry) *syscall.SysProcAttr {
	if !reg.Interactive {
		return nil
	}
	sys := &syscall.SysProcAttr{Setpgid: true, Pgid: j.Pgid}
	if !j.Background && j.Pgid == 0 {
		sys.Foreground = true
		sys.Ctty = reg.Terminal
	}
	return sys
}

// setProcessGroup is the parent-side half of group assignment. The child
// already joined the group via sysAttr; repeating the assignment here
// closes the race where job-control acts on the group before the child
// has been scheduled. Errors are ignored: EACCES just means the child
// execed first, which is exactly the case the redundancy covers.
func setProcessGroup(j *job.Job, pid int, reg *jobs.Registry) {
	if !reg.Interactive {
		return
	}
	if j.Pgid == 0 {
		j.Pgid = pid
	}
	_ = unix.Setpgid(pid, j.Pgid)
	if !j.Background {
		_ = reg.GiveTerminal(j.Pgid)
	}
}
