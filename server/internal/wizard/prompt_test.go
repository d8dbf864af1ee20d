package wizard

import (
	"bytes"
	"strings"
	"testing"
)

func prompter(lines ...string) (*Prompter, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return &Prompter{In: strings.NewReader(strings.Join(lines, "\n") + "\n"), Out: out}, out
}

func TestAsk(t *testing.T) {
	p, out := prompter("value", "")
	if got := p.Ask("Name", "def"); got != "value" {
		t.Errorf("Ask = %q, want value", got)
	}
	if got := p.Ask("Name", "def"); got != "def" {
		t.Errorf("Ask on empty line = %q, want def", got)
	}
	if !strings.Contains(out.String(), "Name [def]: ") {
		t.Errorf("prompt = %q", out.String())
	}
}

func TestAskInt(t *testing.T) {
	p, out := prompter("abc", "-3", "12")
	if got := p.AskInt("Count", 1); got != 12 {
		t.Errorf("AskInt = %d, want 12", got)
	}
	if n := strings.Count(out.String(), "whole number"); n != 2 {
		t.Errorf("expected 2 retry hints, got %d", n)
	}
}

func TestChoose(t *testing.T) {
	p, _ := prompter("9", "postgres", "2", "")
	opts := []string{"sqlite", "postgres"}
	if got := p.Choose("Driver", opts, 0); got != "postgres" {
		t.Errorf("Choose by name = %q", got)
	}
	if got := p.Choose("Driver", opts, 0); got != "postgres" {
		t.Errorf("Choose by number = %q", got)
	}
	if got := p.Choose("Driver", opts, 0); got != "sqlite" {
		t.Errorf("Choose default = %q", got)
	}
}

func TestInputExhausted(t *testing.T) {
	p := &Prompter{In: strings.NewReader(""), Out: &bytes.Buffer{}}
	if got := p.AskInt("Count", 4); got != 4 {
		t.Errorf("AskInt at EOF = %d, want 4", got)
	}
	if got := p.Choose("Driver", []string{"a", "b"}, 1); got != "b" {
		t.Errorf("Choose at EOF = %q, want b", got)
	}
	if !p.Confirm("Sure?", true) {
		t.Error("Confirm at EOF should return the default")
	}
}

func TestConfirm(t *testing.T) {
	p, _ := prompter("yes", "n", "")
	if !p.Confirm("Continue?", false) {
		t.Error("yes should confirm")
	}
	if p.Confirm("Continue?", true) {
		t.Error("n should decline")
	}
	if p.Confirm("Continue?", false) {
		t.Error("empty answer should use the default")
	}
}
