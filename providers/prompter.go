package providers

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
)

// Console asks the user a question on a terminal.
type Console struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// NewConsole creates a prompter reading answers from in and writing
// questions to out.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{in: bufio.NewReader(in), out: out}
}

// Prompt writes question and reads one line.
func (c *Console) Prompt(ctx context.Context, question string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := fmt.Fprint(c.out, question); err != nil {
		return "", goerr.Wrap(err, "failed to write prompt")
	}
	line, err := c.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", goerr.Wrap(err, "failed to read answer")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ReadLine reads one line without a prompt. It shares the reader with
// Prompt so buffered input is never lost between the two.
func (c *Console) ReadLine() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	line, err := c.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
