// Package cli drives the shell's outer loops: the interactive prompt,
// script mode, and one-shot -c execution.
package cli

import (
	"bufio"
	"fmt"
	"io"

	"github.com/mash-shell/mash/internal/history"
	"github.com/mash-shell/mash/internal/jobs"
	"github.com/mash-shell/mash/internal/launch"
	"github.com/mash-shell/mash/internal/parse"
)

// Session bundles the collaborators a prompt loop needs.
type Session struct {
	Launcher *launch.Launcher
	Jobs     *jobs.Registry
	History  *history.Writer // nil disables recording
	Prompt   string

	// Interrupts is the reaper's SIGINT feed. Receiving on it is how
	// control comes back to the prompt after an interrupt.
	Interrupts <-chan struct{}
}

// RunInteractive reads commands from in until EOF, printing the prompt
// before each. Returns the shell's final exit code.
func (s *Session) RunInteractive(in io.Reader, out, errw io.Writer) int {
	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		fmt.Fprint(out, s.Prompt)
		select {
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return s.Jobs.ExitCode()
			}
			s.runLine(line, errw, true)
		case <-s.Interrupts:
			// The interrupt already printed its newline and set the
			// exit code; just come back around to the prompt.
		}
	}
}

// RunScript executes every line of in sequentially, stopping only at EOF.
func (s *Session) RunScript(in io.Reader, errw io.Writer) int {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		s.runLine(sc.Text(), errw, false)
	}
	return s.Jobs.ExitCode()
}

// RunCommand executes a single command line, for mash -c.
func (s *Session) RunCommand(line string, errw io.Writer) int {
	s.runLine(line, errw, false)
	return s.Jobs.ExitCode()
}

func (s *Session) runLine(line string, errw io.Writer, record bool) {
	j, err := parse.Parse(line)
	if err != nil {
		fmt.Fprintf(errw, "mash: %v\n", err)
		s.Jobs.SetExitCode(2)
		return
	}
	if j == nil {
		return
	}
	if record && s.History != nil {
		_ = s.History.Append(j.Line)
	}

	status, err := s.Launcher.Launch(j)
	if err != nil {
		fmt.Fprintf(errw, "mash: %v\n", err)
	}
	s.Jobs.SetExitCode(status)
}
