package builtin

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/mash-shell/mash/internal/history"
	"github.com/mash-shell/mash/internal/job"
	"github.com/mash-shell/mash/internal/jobs"
)

// Shell carries the process-wide state builtins act on. One Shell is
// constructed in main and shared by every binding; the mutex guards the
// previous-directory cell.
type Shell struct {
	Jobs    *jobs.Registry
	History *history.Writer // nil disables the history builtin
	Version string

	// Exit terminates the whole shell; main injects os.Exit.
	Exit func(code int)

	mu     sync.Mutex
	oldpwd string
}

// Install populates t with the shell's builtins. Safe to call more than
// once; later calls replace earlier bindings.
func Install(t *Table, sh *Shell) {
	if sh.Exit == nil {
		sh.Exit = os.Exit
	}
	cmds := map[string]Func{
		"cd":      sh.cd,
		"exit":    sh.exit,
		"help":    sh.help,
		"pwd":     sh.pwd,
		"jobs":    sh.jobs,
		"fg":      sh.fg,
		"bg":      sh.bg,
		"history": sh.history,
	}
	for name, fn := range cmds {
		t.Register(name, Binding{Kind: KindCommand, Run: fn})
	}
}

// Builtins do their I/O through the process's fd table so redirections
// and pipes apply to them exactly as to forked commands.
func stdoutOf(p *job.Process) *os.File {
	if p.Files[job.Stdout] != nil {
		return p.Files[job.Stdout]
	}
	return os.Stdout
}

func stderrOf(p *job.Process) *os.File {
	if p.Files[job.Stderr] != nil {
		return p.Files[job.Stderr]
	}
	return os.Stderr
}

func (sh *Shell) cd(p *job.Process) int {
	dir := os.Getenv("HOME")
	if len(p.Argv) > 1 {
		dir = p.Argv[1]
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if dir == "-" {
		if sh.oldpwd == "" {
			fmt.Fprintln(stderrOf(p), "mash: cd: OLDPWD not set")
			return 1
		}
		dir = sh.oldpwd
	}
	// The previous directory updates before every change attempt, even
	// ones that fail.
	if wd, err := os.Getwd(); err == nil {
		sh.oldpwd = wd
	}
	if err := os.Chdir(dir); err != nil {
		fmt.Fprintf(stderrOf(p), "mash: cd: %v\n", err)
		return 1
	}
	return 0
}

func (sh *Shell) exit(p *job.Process) int {
	sh.Exit(sh.Jobs.ExitCode())
	return 0
}

func (sh *Shell) help(p *job.Process) int {
	fmt.Fprintf(stdoutOf(p), "mash %s, a job-control shell\n\nbuiltins: cd exit help pwd jobs fg bg history\n", sh.Version)
	return 0
}

func (sh *Shell) pwd(p *job.Process) int {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(stderrOf(p), "mash: pwd: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdoutOf(p), wd)
	return 0
}

func (sh *Shell) jobs(p *job.Process) int {
	for _, num := range sh.Jobs.Numbers() {
		j, ok := sh.Jobs.Find(num)
		if !ok {
			continue
		}
		state := "Running"
		if j.Stopped {
			state = "Stopped"
		}
		fmt.Fprintf(stdoutOf(p), "[%d] %s\t%s\n", num, state, j.Line)
	}
	return 0
}

// jobArg resolves an optional %n or n argument, defaulting to the
// current job.
func (sh *Shell) jobArg(p *job.Process, name string) (*job.Job, bool) {
	if len(p.Argv) < 2 {
		j, _, ok := sh.Jobs.Current()
		if !ok {
			fmt.Fprintf(stderrOf(p), "mash: %s: no current job\n", name)
		}
		return j, ok
	}
	num, err := strconv.Atoi(strings.TrimPrefix(p.Argv[1], "%"))
	if err != nil {
		fmt.Fprintf(stderrOf(p), "mash: %s: %s: no such job\n", name, p.Argv[1])
		return nil, false
	}
	j, ok := sh.Jobs.Find(num)
	if !ok {
		fmt.Fprintf(stderrOf(p), "mash: %s: %%%d: no such job\n", name, num)
	}
	return j, ok
}

func (sh *Shell) fg(p *job.Process) int {
	j, ok := sh.jobArg(p, "fg")
	if !ok {
		return 1
	}
	fmt.Fprintln(stdoutOf(p), j.Line)
	return sh.Jobs.SendToForeground(j, true)
}

func (sh *Shell) bg(p *job.Process) int {
	j, ok := sh.jobArg(p, "bg")
	if !ok {
		return 1
	}
	sh.Jobs.SendToBackground(j, true)
	fmt.Fprintln(stdoutOf(p), sh.Jobs.FormatJobInfo(j, "continued"))
	return 0
}

func (sh *Shell) history(p *job.Process) int {
	if sh.History == nil {
		fmt.Fprintln(stderrOf(p), "mash: history: disabled")
		return 1
	}
	n := 10
	if len(p.Argv) > 1 {
		if v, err := strconv.Atoi(p.Argv[1]); err == nil && v > 0 {
			n = v
		}
	}
	lines, err := sh.History.Tail(n)
	if err != nil {
		fmt.Fprintf(stderrOf(p), "mash: history: %v\n", err)
		return 1
	}
	for _, line := range lines {
		fmt.Fprintln(stdoutOf(p), line)
	}
	return 0
}
