// Package job defines the pipeline data model: a Job is one pipeline
// submitted at the prompt, made of Processes connected left to right.
package job

import "os"

// Standard fd slots. Redirection specs and Process fd tables are indexed
// by these.
const (
	Stdin = iota
	Stdout
	Stderr
)

// EnvVar is a single-process environment override. It applies only to the
// process it is attached to, never to the shell itself.
type EnvVar struct {
	Name  string
	Value string
}

// String returns the NAME=VALUE form used when building a child environment.
func (e EnvVar) String() string {
	return e.Name + "=" + e.Value
}

// Redirection is an optional file bound to one of a job's standard slots.
// A zero Path means no redirection for that slot.
type Redirection struct {
	Path string
	Flag int // os.O_* open flags
}

// Process is one pipeline stage: either an external command or a builtin
// invocation.
type Process struct {
	// Argv holds the command and its arguments; Argv[0] is the name used
	// for builtin lookup and executable resolution.
	Argv []string

	// Env holds per-process environment overrides.
	Env []EnvVar

	// Files is the process's fd table for the three standard slots.
	// A nil entry means "inherit the shell's own descriptor"; a non-nil
	// entry is owned by the launch machinery and must be closed exactly
	// once after the stage is started.
	Files [3]*os.File

	// Pid is the OS process id, 0 until started. Builtins never set it.
	Pid int

	// Completed and ExitCode are set when the stage finishes, either by
	// the builtin returning or by a wait collecting the child.
	Completed bool
	ExitCode  int
}

// NewProcess returns a Process with an empty argv and an inherit-everything
// fd table.
func NewProcess() *Process {
	return &Process{Argv: make([]string, 0, 4)}
}

// Builtin reports whether the stage ran in-process: completed without a pid.
func (p *Process) Builtin() bool {
	return p.Pid == 0 && p.Completed
}

// Job is one pipeline plus its redirections and job-control state.
type Job struct {
	// Procs is the pipeline in execution order, left to right.
	Procs []*Process

	// Redir holds up to three redirection specs, indexed by Stdin,
	// Stdout, Stderr.
	Redir [3]Redirection

	// Pgid is 0 until the first child is created, then fixed for the
	// job's lifetime. Every subsequent child joins it.
	Pgid int

	// Background marks jobs launched with a trailing &.
	Background bool

	// Stopped is set when a foreground wait observes a stop.
	Stopped bool

	// Line is the raw command line, kept for job status output.
	Line string
}

// NewJob returns an empty Job ready for the parser to populate.
func NewJob() *Job {
	return &Job{}
}

// Completed reports whether every stage has finished.
func (j *Job) Completed() bool {
	for _, p := range j.Procs {
		if !p.Completed {
			return false
		}
	}
	return true
}

// Contains reports whether pid belongs to one of the job's stages.
func (j *Job) Contains(pid int) bool {
	return j.Proc(pid) != nil
}

// Proc returns the stage with the given pid, or nil.
func (j *Job) Proc(pid int) *Process {
	if pid <= 0 {
		return nil
	}
	for _, p := range j.Procs {
		if p.Pid == pid {
			return p
		}
	}
	return nil
}

// Close releases every launcher-owned file in the job. It is safe to call
// on a nil job and safe to call more than once: entries are nilled as they
// are closed.
func (j *Job) Close() {
	if j == nil {
		return
	}
	for _, p := range j.Procs {
		for i, f := range p.Files {
			if f != nil {
				f.Close()
				p.Files[i] = nil
			}
		}
	}
}
