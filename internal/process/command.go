package process

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

type commandKind int

const (
	kindArgv commandKind = iota
	kindShell
)

// Command is either an argv sequence or a single shell-style command line.
//
// A shell line is tokenized with shell quoting rules but is never handed to
// /bin/sh: the resulting argv is executed directly, so pipes, redirects and
// variable expansion are not interpreted.
type Command struct {
	kind commandKind
	argv []string
	line string
}

// Argv builds a command from explicit argument tokens. This is the
// preferred form; it avoids quoting hazards entirely.
func Argv(args ...string) Command {
	return Command{kind: kindArgv, argv: append([]string(nil), args...)}
}

// Shell builds a command from a single command line.
func Shell(line string) Command {
	return Command{kind: kindShell, line: line}
}

// IsShell reports whether the command was given as a command line.
func (c Command) IsShell() bool {
	return c.kind == kindShell
}

// Resolve returns the argv that will be executed.
func (c Command) Resolve() ([]string, error) {
	var argv []string
	switch c.kind {
	case kindShell:
		tokens, err := shlex.Split(c.line)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
		}
		argv = tokens
	default:
		argv = append([]string(nil), c.argv...)
	}

	if len(argv) == 0 || argv[0] == "" {
		return nil, fmt.Errorf("%w: empty command", ErrInvalidCommand)
	}
	return argv, nil
}

// String returns a printable form, used in logs and run history.
func (c Command) String() string {
	if c.kind == kindShell {
		return c.line
	}
	return strings.Join(c.argv, " ")
}
