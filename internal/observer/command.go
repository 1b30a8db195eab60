package observer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandEnumerator runs an external helper that prints one JSON window
// object per line, for example:
//
//	{"ref":"0x1a2b","title":"Allow Copilot to run this command?","exe":"C:\\VS_Lim1712-1.101.1\\Code.exe","cwd":"C:\\work","foreground":true}
//
// Platform window APIs live in the helper (PowerShell, xdotool, AppleScript).
type CommandEnumerator struct {
	command []string
	timeout time.Duration
	run     func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewCommandEnumerator creates an enumerator for the given helper argv.
func NewCommandEnumerator(command []string, timeout time.Duration) (*CommandEnumerator, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, errors.New("enumeration command is empty")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CommandEnumerator{
		command: command,
		timeout: timeout,
		run:     runOutput,
	}, nil
}

func runOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}

// Enumerate implements Enumerator.
func (e *CommandEnumerator) Enumerate(ctx context.Context) ([]Window, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	out, err := e.run(ctx, e.command[0], e.command[1:]...)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", e.command[0], err)
	}
	return parseWindows(out)
}

func parseWindows(out []byte) ([]Window, error) {
	var windows []Window
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var w Window
		if err := json.Unmarshal([]byte(text), &w); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		windows = append(windows, w)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return windows, nil
}

// StaticEnumerator returns a fixed window list. It backs dry runs and tests.
type StaticEnumerator struct {
	Windows []Window
	Err     error
}

// Enumerate implements Enumerator.
func (s *StaticEnumerator) Enumerate(context.Context) ([]Window, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]Window, len(s.Windows))
	copy(out, s.Windows)
	return out, nil
}
