package wizard

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// Prompter reads answers line by line from In and writes questions to Out.
type Prompter struct {
	In  io.Reader
	Out io.Writer

	scanner *bufio.Scanner
	eof     bool
}

// DefaultPrompter returns a Prompter bound to the process terminal.
func DefaultPrompter() *Prompter {
	return &Prompter{In: os.Stdin, Out: os.Stdout}
}

func (p *Prompter) line() string {
	if p.scanner == nil {
		p.scanner = bufio.NewScanner(p.In)
	}
	if !p.scanner.Scan() {
		p.eof = true
		return ""
	}
	return strings.TrimSpace(p.scanner.Text())
}

// Ask reads one answer, falling back to def on an empty line.
func (p *Prompter) Ask(question, def string) string {
	if def != "" {
		fmt.Fprintf(p.Out, "%s [%s]: ", question, def)
	} else {
		fmt.Fprintf(p.Out, "%s: ", question)
	}
	if ans := p.line(); ans != "" {
		return ans
	}
	return def
}

// AskSecret reads an answer without echo when In is a terminal.
func (p *Prompter) AskSecret(question string) string {
	fmt.Fprintf(p.Out, "%s: ", question)
	if f, ok := p.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(p.Out)
		if err == nil {
			return strings.TrimSpace(string(b))
		}
	}
	return p.line()
}

// AskInt asks until a non-negative integer is entered. Input running out
// yields def.
func (p *Prompter) AskInt(question string, def int) int {
	for {
		ans := p.Ask(question, strconv.Itoa(def))
		if n, err := strconv.Atoi(ans); err == nil && n >= 0 {
			return n
		}
		if p.eof {
			return def
		}
		fmt.Fprintln(p.Out, "  Please enter a whole number.")
	}
}

// Choose lists options and returns the one picked by number or by name.
func (p *Prompter) Choose(question string, options []string, def int) string {
	fmt.Fprintln(p.Out, question)
	for i, opt := range options {
		marker := "  "
		if i == def {
			marker = "> "
		}
		fmt.Fprintf(p.Out, "%s%d) %s\n", marker, i+1, opt)
	}
	for {
		ans := p.Ask("Choice", strconv.Itoa(def+1))
		if n, err := strconv.Atoi(ans); err == nil && n >= 1 && n <= len(options) {
			return options[n-1]
		}
		for _, opt := range options {
			if strings.EqualFold(ans, opt) {
				return opt
			}
		}
		if p.eof {
			return options[def]
		}
		fmt.Fprintf(p.Out, "  Please enter a number between 1 and %d.\n", len(options))
	}
}

// Confirm asks a yes/no question.
func (p *Prompter) Confirm(question string, defYes bool) bool {
	hint := "y/N"
	if defYes {
		hint = "Y/n"
	}
	ans := p.Ask(question+" ["+hint+"]", "")
	if ans == "" {
		return defYes
	}
	return strings.HasPrefix(strings.ToLower(ans), "y")
}
