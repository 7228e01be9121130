package confirm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/term"
)

var logger = log.WithField("package", "confirm")

// ErrNotInteractive is returned when a prompt would block without a terminal
var ErrNotInteractive = errors.New("stdin is not a terminal; pass --non-interactive to answer prompts automatically")

// Confirmer answers a yes/no gate in the pipeline
type Confirmer interface {
	Confirm(ctx context.Context, message string) (bool, error)
}

// Static answers every prompt with the same value
type Static struct {
	Answer bool
}

// Ensure Static implements Confirmer
var _ Confirmer = (*Static)(nil)

func (s *Static) Confirm(ctx context.Context, message string) (bool, error) {
	logger.WithField("prompt", message).WithField("answer", s.Answer).Info("Answered prompt automatically")
	fmt.Printf("❓ %s (y/N): %s [auto]\n", message, yesNo(s.Answer))
	return s.Answer, nil
}

// Scripted replays a fixed list of answers, then falls back to Default
type Scripted struct {
	Answers []bool
	Default bool
	Asked   []string
}

// Ensure Scripted implements Confirmer
var _ Confirmer = (*Scripted)(nil)

func (s *Scripted) Confirm(ctx context.Context, message string) (bool, error) {
	s.Asked = append(s.Asked, message)
	if len(s.Answers) == 0 {
		return s.Default, nil
	}
	answer := s.Answers[0]
	s.Answers = s.Answers[1:]
	return answer, nil
}

// Prompt asks an operator on a reader/writer pair
type Prompt struct {
	in  *bufio.Reader
	out io.Writer
}

// Ensure Prompt implements Confirmer
var _ Confirmer = (*Prompt)(nil)

// NewPrompt creates a new prompt over arbitrary streams
func NewPrompt(in io.Reader, out io.Writer) *Prompt {
	return &Prompt{in: bufio.NewReader(in), out: out}
}

// NewTerminalPrompt prompts on stdin/stdout, refusing to run without a terminal
func NewTerminalPrompt() (*Prompt, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, ErrNotInteractive
	}
	return NewPrompt(os.Stdin, os.Stdout), nil
}

func (p *Prompt) Confirm(ctx context.Context, message string) (bool, error) {
	type answer struct {
		line string
		err  error
	}
	fmt.Fprintf(p.out, "❓ %s (y/N): ", message)

	ch := make(chan answer, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		ch <- answer{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil && !errors.Is(a.err, io.EOF) {
			return false, fmt.Errorf("failed to read answer: %w", a.err)
		}
		ok := parseAnswer(a.line)
		logger.WithField("prompt", message).WithField("answer", ok).Info("Operator answered prompt")
		return ok, nil
	}
}

func parseAnswer(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func yesNo(b bool) string {
	if b {
		return "y"
	}
	return "n"
}
