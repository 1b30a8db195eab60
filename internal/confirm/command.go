package confirm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CommandDispatcher sends confirms through an external helper. The window
// ref is appended as the last argument, or substituted for a "{ref}"
// argument when one is present. Exit status 0 means the confirm was sent.
type CommandDispatcher struct {
	command []string
	run     func(ctx context.Context, name string, args ...string) error
}

// NewCommandDispatcher creates a dispatcher for the given helper argv.
func NewCommandDispatcher(command []string) (*CommandDispatcher, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, errors.New("dispatch command is empty")
	}
	return &CommandDispatcher{command: command, run: runCommand}, nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

// SendConfirm implements Dispatcher.
func (d *CommandDispatcher) SendConfirm(ctx context.Context, ref string) error {
	return d.run(ctx, d.command[0], d.args(ref)...)
}

func (d *CommandDispatcher) args(ref string) []string {
	args := make([]string, 0, len(d.command))
	substituted := false
	for _, a := range d.command[1:] {
		if strings.Contains(a, "{ref}") {
			a = strings.ReplaceAll(a, "{ref}", ref)
			substituted = true
		}
		args = append(args, a)
	}
	if !substituted {
		args = append(args, ref)
	}
	return args
}
