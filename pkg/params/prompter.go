package params

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/openfroyo/froyostack/pkg/engine"
)

// TerminalPrompter asks questions on a terminal. Secret parameters are read
// without echo when the input is a terminal.
type TerminalPrompter struct {
	in     *bufio.Reader
	fd     int
	isTerm bool
	out    io.Writer
	label  *color.Color
}

// NewTerminalPrompter creates a prompter reading in and writing out.
func NewTerminalPrompter(in *os.File, out io.Writer) *TerminalPrompter {
	fd := int(in.Fd())
	return &TerminalPrompter{
		in:     bufio.NewReader(in),
		fd:     fd,
		isTerm: term.IsTerminal(fd),
		out:    out,
		label:  color.New(color.FgCyan, color.Bold),
	}
}

// newReaderPrompter is used by tests to drive the prompter from a buffer.
func newReaderPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{
		in:    bufio.NewReader(in),
		fd:    -1,
		out:   out,
		label: color.New(color.FgCyan, color.Bold),
	}
}

// Prompt asks each request in order.
func (p *TerminalPrompter) Prompt(ctx context.Context, requests []engine.PromptRequest) (map[string]string, error) {
	answers := make(map[string]string, len(requests))
	for _, req := range requests {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		answer, err := p.ask(req)
		if err != nil {
			return nil, fmt.Errorf("prompt %s: %w", req.Name, err)
		}
		answers[req.Name] = answer
	}
	return answers, nil
}

func (p *TerminalPrompter) ask(req engine.PromptRequest) (string, error) {
	for {
		fmt.Fprint(p.out, p.label.Sprint("? "), req.Message)
		if req.Kind == engine.InputChoice {
			fmt.Fprintln(p.out)
			for i, c := range req.Choices {
				fmt.Fprintf(p.out, "  %d) %s\n", i+1, c)
			}
			fmt.Fprint(p.out, "  choice")
		}
		if req.Default != "" {
			fmt.Fprintf(p.out, " [%s]", req.Default)
		}
		fmt.Fprint(p.out, ": ")

		line, err := p.readLine(req.Secret)
		if err != nil {
			return "", err
		}
		if line == "" {
			if req.Default != "" {
				return "", nil
			}
			fmt.Fprintln(p.out, "  a value is required")
			continue
		}
		if req.Kind != engine.InputChoice {
			return line, nil
		}
		if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(req.Choices) {
			return req.Choices[n-1], nil
		}
		for _, c := range req.Choices {
			if c == line {
				return c, nil
			}
		}
		fmt.Fprintf(p.out, "  %q is not a valid choice\n", line)
	}
}

func (p *TerminalPrompter) readLine(secret bool) (string, error) {
	if secret && p.isTerm {
		b, err := term.ReadPassword(p.fd)
		fmt.Fprintln(p.out)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Confirm asks a yes/no question. Anything but y or yes declines.
func (p *TerminalPrompter) Confirm(ctx context.Context, message string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fmt.Fprint(p.out, p.label.Sprint("? "), message, " [y/N]: ")
	line, err := p.readLine(false)
	if err != nil {
		if err == io.EOF {
			return false, nil
		}
		return false, err
	}
	switch strings.ToLower(line) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// NonInteractive answers every prompt with its default and fails for prompts
// without one. It is used when no terminal is attached.
type NonInteractive struct {
	// AssumeYes makes Confirm succeed.
	AssumeYes bool
}

// Prompt returns the default of every request.
func (n NonInteractive) Prompt(_ context.Context, requests []engine.PromptRequest) (map[string]string, error) {
	answers := make(map[string]string, len(requests))
	var missing []string
	for _, req := range requests {
		if req.Default == "" {
			missing = append(missing, req.Name)
			continue
		}
		answers[req.Name] = req.Default
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("no value for parameters %s and no terminal to ask", strings.Join(missing, ", "))
	}
	return answers, nil
}

// Confirm returns AssumeYes.
func (n NonInteractive) Confirm(_ context.Context, _ string) (bool, error) {
	return n.AssumeYes, nil
}
