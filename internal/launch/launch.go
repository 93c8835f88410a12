// Package launch turns a populated Job into running processes: it opens
// redirections, wires pipes between adjacent stages, dispatches builtins
// in-process, starts externals in the job's process group, and hands the
// job to the registry for its foreground/background disposition.
package launch

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/mash-shell/mash/internal/builtin"
	"github.com/mash-shell/mash/internal/job"
	"github.com/mash-shell/mash/internal/jobs"
)

// fileMask is the creation mode for redirection targets.
const fileMask = 0666

// Stage identifies which launch step failed.
type Stage int

const (
	StageRedirect Stage = iota
	StagePipe
	StageStart
)

func (s Stage) String() string {
	switch s {
	case StageRedirect:
		return "redirect"
	case StagePipe:
		return "pipe"
	case StageStart:
		return "start"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Error is a launch failure with the step it occurred in. The wrapped
// error carries the OS error string.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Launcher executes jobs against a builtin table and a job registry.
type Launcher struct {
	Table *builtin.Table
	Jobs  *jobs.Registry
}

// New returns a Launcher.
func New(t *builtin.Table, r *jobs.Registry) *Launcher {
	return &Launcher{Table: t, Jobs: r}
}

// Launch runs j and returns the exit status of its last stage.
//
// A redirection failure aborts before anything is started. A start
// failure aborts the walk but does not roll back stages already running;
// they keep their pipes and are reaped normally. That partial-failure
// policy is deliberate: killing siblings on a late failure would discard
// work the user may still want. Launcher-owned descriptors are closed on
// every path.
func (l *Launcher) Launch(j *job.Job) (int, error) {
	if len(j.Procs) == 0 {
		return 0, nil
	}

	if err := l.wire(j); err != nil {
		return jobs.CodeIOFailure, err
	}

	for i, p := range j.Procs {
		if i < len(j.Procs)-1 {
			r, w, err := os.Pipe()
			if err != nil {
				j.Close()
				return jobs.CodeForkFailure, &Error{Stage: StagePipe, Err: err}
			}
			p.Files[job.Stdout] = w
			j.Procs[i+1].Files[job.Stdin] = r
		}

		if b, ok := l.Table.Lookup(p.Argv[0], builtin.IsCommand); ok {
			p.ExitCode = b.Run(p)
			p.Completed = true
		} else if err := l.start(j, p); err != nil {
			closeOwned(p)
			j.Close()
			return jobs.CodeForkFailure, &Error{Stage: StageStart, Err: err}
		}

		// Ownership of pipe ends and redirection files passed to the
		// child or builtin; drop the shell's copies.
		closeOwned(p)
	}

	switch {
	case !l.Jobs.Interactive:
		return l.Jobs.WaitForJob(j), nil
	case j.Background:
		l.Jobs.SendToBackground(j, false)
		fmt.Fprintln(l.Jobs.Out, l.Jobs.FormatJobInfo(j, "launched"))
		return 0, nil
	default:
		return l.Jobs.SendToForeground(j, false), nil
	}
}

// wire opens the job's redirections and binds them to the first and last
// stages. All opens succeed or none take effect.
func (l *Launcher) wire(j *job.Job) error {
	var opened [3]*os.File
	for i, r := range j.Redir {
		if r.Path == "" {
			continue
		}
		f, err := os.OpenFile(r.Path, r.Flag, fileMask)
		if err != nil {
			for _, g := range opened {
				if g != nil {
					g.Close()
				}
			}
			return &Error{Stage: StageRedirect, Err: err}
		}
		opened[i] = f
	}

	first := j.Procs[0]
	last := j.Procs[len(j.Procs)-1]
	first.Files[job.Stdin] = opened[job.Stdin]
	last.Files[job.Stdout] = opened[job.Stdout]
	last.Files[job.Stderr] = opened[job.Stderr]
	return nil
}

// start resolves and spawns one external stage in the job's process
// group. A resolution failure marks the stage dead with the reserved
// exec-failure code and lets the pipeline continue; only a spawn failure
// is returned, aborting the launch.
func (l *Launcher) start(j *job.Job, p *job.Process) error {
	path, err := exec.LookPath(p.Argv[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "mash: %s: command not found\n", p.Argv[0])
		p.Completed = true
		p.ExitCode = jobs.CodeExecFailure
		return nil
	}

	env := os.Environ()
	if len(p.Env) > 0 {
		// Overridden names are removed first: with duplicates in the
		// environment block, children see whichever entry comes first.
		overridden := make(map[string]bool, len(p.Env))
		for _, e := range p.Env {
			overridden[e.Name] = true
		}
		kept := env[:0]
		for _, kv := range env {
			name, _, _ := strings.Cut(kv, "=")
			if !overridden[name] {
				kept = append(kept, kv)
			}
		}
		env = kept
		for _, e := range p.Env {
			env = append(env, e.String())
		}
	}

	files := make([]*os.File, 3)
	std := []*os.File{os.Stdin, os.Stdout, os.Stderr}
	for i, f := range p.Files {
		if f != nil {
			files[i] = f
		} else {
			files[i] = std[i]
		}
	}

	proc, err := os.StartProcess(path, p.Argv, &os.ProcAttr{
		Env:   env,
		Files: files,
		Sys:   sysAttr(j, l.Jobs),
	})
	if err != nil {
		return err
	}
	p.Pid = proc.Pid
	// The registry waits on pids directly; release the handle so the
	// runtime does not hold the process.
	_ = proc.Release()

	setProcessGroup(j, p.Pid, l.Jobs)
	return nil
}

func closeOwned(p *job.Process) {
	for i, f := range p.Files {
		if f != nil {
			f.Close()
			p.Files[i] = nil
		}
	}
}
