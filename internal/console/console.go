// Package console reads chat input from the terminal while asynchronous output
// is printed above the prompt.
package console

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"golang.org/x/term"
)

const keyCtrlC = 3

// Events receives input. Key fires for every printable keystroke, or once per line
// when input is not a terminal. Line receives each submitted line; returning false
// stops Run.
type Events struct {
	Key  func()
	Line func(line string) bool
}

// Console is an io.Writer that keeps the prompt and the partially typed line
// intact while other goroutines print.
type Console struct {
	in     io.Reader
	out    io.Writer
	prompt string
	fd     int
	tty    bool

	mu      sync.Mutex
	term    *term.Terminal
	scanner *bufio.Scanner
}

// New wraps in and out. Raw-mode line editing is used when in is a terminal.
func New(in io.Reader, out io.Writer, prompt string) *Console {
	c := &Console{in: in, out: out, prompt: prompt, fd: -1}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		c.fd = int(f.Fd())
		c.tty = true
	}
	return c
}

// IsTerminal reports whether raw-mode editing is in use.
func (c *Console) IsTerminal() bool {
	return c.tty
}

// Write prints p above the prompt.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	t := c.term
	c.mu.Unlock()
	if t != nil {
		return t.Write(p)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Write(p)
}

// SetPrompt changes the prompt.
func (c *Console) SetPrompt(prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompt = prompt
	if c.term != nil {
		c.term.SetPrompt(prompt)
	}
}

// ReadPassword reads one line without echo. It is only valid from a Line handler.
func (c *Console) ReadPassword(prompt string) (string, error) {
	c.mu.Lock()
	t, sc := c.term, c.scanner
	c.mu.Unlock()

	if t != nil {
		return t.ReadPassword(prompt)
	}
	if sc == nil {
		return "", errors.New("console: not running")
	}
	if _, err := io.WriteString(c, prompt); err != nil {
		return "", err
	}
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return sc.Text(), nil
}

type result struct {
	line string
	err  error
}

// Run dispatches input until ctx is done, input ends, Ctrl-C is pressed or a Line
// handler returns false.
func (c *Console) Run(ctx context.Context, ev Events) error {
	if ev.Key == nil {
		ev.Key = func() {}
	}
	if ev.Line == nil {
		ev.Line = func(string) bool { return true }
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	read, restore, err := c.start(ev.Key, cancel)
	if err != nil {
		return err
	}
	defer restore()

	lines := make(chan result)
	next := make(chan struct{})
	go func() {
		for {
			line, err := read()
			select {
			case lines <- result{line: line, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
			select {
			case <-next:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-lines:
			if r.err != nil {
				if errors.Is(r.err, io.EOF) {
					return nil
				}
				return r.err
			}
			if !c.tty {
				ev.Key()
			}
			if !ev.Line(r.line) {
				return nil
			}
			select {
			case next <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (c *Console) start(key func(), interrupt func()) (func() (string, error), func(), error) {
	if !c.tty {
		sc := bufio.NewScanner(c.in)
		c.mu.Lock()
		c.scanner = sc
		c.mu.Unlock()

		read := func() (string, error) {
			if sc.Scan() {
				return sc.Text(), nil
			}
			if err := sc.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return read, func() {}, nil
	}

	state, err := term.MakeRaw(c.fd)
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{c.in, c.out}, c.prompt)
	t.AutoCompleteCallback = func(line string, pos int, r rune) (string, int, bool) {
		if r == keyCtrlC {
			interrupt()
			return "", 0, true
		}
		key()
		return "", 0, false
	}
	c.term = t
	c.mu.Unlock()

	restore := func() {
		c.mu.Lock()
		c.term = nil
		c.mu.Unlock()
		_ = term.Restore(c.fd, state)
		_, _ = io.WriteString(c.out, "\r\n")
	}
	return t.ReadLine, restore, nil
}
