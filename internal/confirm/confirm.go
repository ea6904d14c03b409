// Package confirm provides the yes/no confirmation gate used before
// destructive operations (unmounting, overwriting partition tables,
// restoring images). The policy is injectable so the engine can run
// unattended or under test without a terminal.
package confirm

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Policy answers destructive-operation prompts.
type Policy interface {
	// Confirm asks the given question and reports whether the operation
	// may proceed. A false answer means the user cancelled; it is not an
	// error.
	Confirm(question string) (bool, error)
}

// Auto always answers the same way. Used for --yes / --no.
type Auto bool

func (a Auto) Confirm(string) (bool, error) { return bool(a), nil }

// Interactive reads a y/N answer from In, writing the prompt to Out.
type Interactive struct {
	In  io.Reader
	Out io.Writer

	br *bufio.Reader
}

func (p *Interactive) Confirm(question string) (bool, error) {
	// one reader for the lifetime of the policy: input buffered past the
	// first answer must still be there for the next prompt
	if p.br == nil {
		in := p.In
		if in == nil {
			in = os.Stdin
		}
		p.br = bufio.NewReader(in)
	}
	out := p.Out
	if out == nil {
		out = os.Stderr
	}

	fmt.Fprintf(out, "%s [y/N]: ", question)

	line, err := p.br.ReadString('\n')
	if err != nil && line == "" {
		return false, fmt.Errorf("reading confirmation: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// Default picks the policy for a CLI invocation: interactive when stdin is
// a terminal, otherwise auto-no so an unattended run never blocks waiting
// for input it will not get.
func Default() Policy {
	if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return &Interactive{}
	}
	return Auto(false)
}
