package formula

import (
	"errors"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Command is one external program invocation. It is immutable.
type Command struct {
	program string
	args    []string
}

// NewCommand creates a Command. The program must not be empty.
func NewCommand(program string, args ...string) (Command, error) {
	if strings.TrimSpace(program) == "" {
		return Command{}, errors.New("command program cannot be empty")
	}
	copied := make([]string, len(args))
	copy(copied, args)
	return Command{program: program, args: copied}, nil
}

// MustNewCommand is NewCommand for known-good literals; it panics on error.
func MustNewCommand(program string, args ...string) Command {
	cmd, err := NewCommand(program, args...)
	if err != nil {
		panic(err)
	}
	return cmd
}

// Program returns the program name or path.
func (c Command) Program() string {
	return c.program
}

// Args returns a copy of the arguments.
func (c Command) Args() []string {
	copied := make([]string, len(c.args))
	copy(copied, c.args)
	return copied
}

// String renders the command as a shell-like line.
func (c Command) String() string {
	if len(c.args) == 0 {
		return c.program
	}
	return c.program + " " + strings.Join(c.args, " ")
}

// ShellString renders the command with every word quoted for bash, so the
// line can be pasted into a shell to reproduce the step.
func (c Command) ShellString() string {
	words := make([]string, 0, len(c.args)+1)
	for _, w := range append([]string{c.program}, c.args...) {
		quoted, err := syntax.Quote(w, syntax.LangBash)
		if err != nil {
			quoted = w
		}
		words = append(words, quoted)
	}
	return strings.Join(words, " ")
}

// IsZero reports whether this is the zero Command.
func (c Command) IsZero() bool {
	return c.program == ""
}

// Expand substitutes placeholders in the program and every argument.
func (c Command) Expand(vars Vars) (Command, error) {
	program, err := vars.Expand(c.program)
	if err != nil {
		return Command{}, err
	}
	args := make([]string, len(c.args))
	for i, arg := range c.args {
		if args[i], err = vars.Expand(arg); err != nil {
			return Command{}, err
		}
	}
	return Command{program: program, args: args}, nil
}

// placeholders returns the placeholder keys referenced by the command.
func (c Command) placeholders() []string {
	keys := placeholderKeys(c.program)
	for _, arg := range c.args {
		keys = append(keys, placeholderKeys(arg)...)
	}
	return keys
}
