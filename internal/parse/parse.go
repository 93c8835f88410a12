// Package parse turns a raw command line into a job: a pipeline of
// processes with redirections, per-stage environment overrides, and a
// background flag.
package parse

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/mash-shell/mash/internal/job"
)

type token struct {
	text   string
	op     bool // unquoted metacharacter: | & < > >> 2>
	quoted bool // any part came from quotes or an escape
}

// Parse builds a Job from line. A blank line yields a nil job and no
// error.
func Parse(line string) (*job.Job, error) {
	toks, err := lex(line)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, nil
	}

	j := job.NewJob()
	j.Line = strings.TrimSpace(line)
	p := job.NewProcess()
	j.Procs = append(j.Procs, p)

	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if !t.op {
			if name, value, ok := assignment(t, len(p.Argv) == 0); ok {
				p.Env = append(p.Env, job.EnvVar{Name: name, Value: value})
			} else {
				p.Argv = append(p.Argv, t.text)
			}
			continue
		}
		switch t.text {
		case "|":
			if len(p.Argv) == 0 {
				return nil, fmt.Errorf("syntax error near %q", "|")
			}
			p = job.NewProcess()
			j.Procs = append(j.Procs, p)
		case "&":
			if i != len(toks)-1 {
				return nil, fmt.Errorf("syntax error near %q", "&")
			}
			j.Background = true
		case "<", ">", ">>", "2>":
			if i+1 >= len(toks) || toks[i+1].op {
				return nil, fmt.Errorf("%s requires a file path", t.text)
			}
			i++
			slot, flag := redirSpec(t.text)
			j.Redir[slot] = job.Redirection{Path: toks[i].text, Flag: flag}
		}
	}

	for _, p := range j.Procs {
		if len(p.Argv) == 0 {
			return nil, fmt.Errorf("missing command")
		}
	}
	return j, nil
}

func redirSpec(op string) (slot, flag int) {
	switch op {
	case "<":
		return job.Stdin, os.O_RDONLY
	case ">>":
		return job.Stdout, os.O_WRONLY | os.O_CREATE | os.O_APPEND
	case "2>":
		return job.Stderr, os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	default:
		return job.Stdout, os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
}

// assignment recognizes an unquoted NAME=VALUE override, valid only
// before the command name.
func assignment(t token, leading bool) (name, value string, ok bool) {
	if !leading || t.quoted {
		return "", "", false
	}
	name, value, found := strings.Cut(t.text, "=")
	if !found || name == "" {
		return "", "", false
	}
	for i, r := range name {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return "", "", false
	}
	return name, value, true
}

func lex(line string) ([]token, error) {
	var toks []token
	var cur strings.Builder
	quoted := false

	flush := func() {
		if cur.Len() > 0 || quoted {
			toks = append(toks, token{text: cur.String(), quoted: quoted})
			cur.Reset()
			quoted = false
		}
	}
	emit := func(op string) {
		flush()
		toks = append(toks, token{text: op, op: true})
	}

	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '\'':
			i++
			closed := false
			for ; i < len(runes); i++ {
				if runes[i] == '\'' {
					closed = true
					break
				}
				cur.WriteRune(runes[i])
			}
			if !closed {
				return nil, fmt.Errorf("unterminated single quote")
			}
			quoted = true
		case c == '"':
			i++
			closed := false
			for i < len(runes) {
				if runes[i] == '\\' && i+1 < len(runes) && (runes[i+1] == '"' || runes[i+1] == '\\') {
					cur.WriteRune(runes[i+1])
					i += 2
					continue
				}
				if runes[i] == '"' {
					closed = true
					break
				}
				cur.WriteRune(runes[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated double quote")
			}
			quoted = true
		case c == '\\':
			if i+1 >= len(runes) {
				return nil, fmt.Errorf("trailing backslash")
			}
			i++
			cur.WriteRune(runes[i])
			quoted = true
		case unicode.IsSpace(c):
			flush()
		case c == '|':
			emit("|")
		case c == '&':
			emit("&")
		case c == '<':
			emit("<")
		case c == '>':
			op := ">"
			if cur.String() == "2" && !quoted {
				cur.Reset()
				op = "2>"
			} else if i+1 < len(runes) && runes[i+1] == '>' {
				op = ">>"
				i++
			}
			emit(op)
		default:
			cur.WriteRune(c)
		}
	}
	flush()
	return toks, nil
}
