package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mash-shell/mash/internal/builtin"
	"github.com/mash-shell/mash/internal/cli"
	"github.com/mash-shell/mash/internal/config"
	"github.com/mash-shell/mash/internal/history"
	"github.com/mash-shell/mash/internal/jobs"
	"github.com/mash-shell/mash/internal/launch"
	"github.com/mash-shell/mash/internal/reaper"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	command := flag.String("c", "", "run a single command and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("mash %s\n", version)
		return 0
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "mash: config: %v\n", err)
		return 1
	}

	interactive := cfg.Interactive
	if *command != "" {
		// A -c run never owns the terminal.
		off := false
		interactive = &off
	}
	reg := jobs.New(int(os.Stdin.Fd()), interactive)

	var hist *history.Writer
	if !cfg.History.Disabled {
		hist, err = history.Open(cfg.History.Path, cfg.History.MaxEntries)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mash: history: %v\n", err)
			// Continue without history.
			hist = nil
		}
	}

	table := builtin.NewTable()
	builtin.Install(table, &builtin.Shell{
		Jobs:    reg,
		History: hist,
		Version: version,
		Exit:    os.Exit,
	})

	r := reaper.Start(reg, os.Stdout, cfg.Notify)
	defer r.Stop()

	sess := &cli.Session{
		Launcher:   launch.New(table, reg),
		Jobs:       reg,
		History:    hist,
		Prompt:     cfg.Prompt,
		Interrupts: r.Interrupts(),
	}

	if *command != "" {
		return sess.RunCommand(*command, os.Stderr)
	}
	if reg.Interactive {
		return sess.RunInteractive(os.Stdin, os.Stdout, os.Stderr)
	}
	return sess.RunScript(os.Stdin, os.Stderr)
}
