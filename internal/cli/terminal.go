package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/vikashloomba/a2c-computer-go/pkg/computer"
	"github.com/vikashloomba/a2c-computer-go/pkg/inputs"
)

// terminal answers input prompts and tool confirmations from a line-based
// reader. Questions go to out.
type terminal struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func newTerminal(in io.Reader, out io.Writer) *terminal {
	return &terminal{in: bufio.NewReader(in), out: out}
}

func (t *terminal) Prompt(_ context.Context, def inputs.Definition) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	label := def.Description
	if label == "" {
		label = def.ID
	}
	if def.Type == inputs.TypePickString && len(def.Options) > 0 {
		fmt.Fprintf(t.out, "%s [%s]: ", label, strings.Join(def.Options, "/"))
	} else {
		fmt.Fprintf(t.out, "%s: ", label)
	}
	return t.readLine()
}

func (t *terminal) Confirm(_ context.Context, req computer.ConfirmRequest) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	params, err := json.Marshal(req.Parameters)
	if err != nil {
		return false, err
	}
	fmt.Fprintf(t.out, "Run %s on %s with %s? [y/N]: ", req.Tool, req.Server, params)
	answer, err := t.readLine()
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (t *terminal) readLine() (string, error) {
	line, err := t.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}
