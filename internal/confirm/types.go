// Package confirm drives the per-instance confirmation state machine: it
// decides when a classified dialog gets a confirm action and guarantees at
// most one confirm per dialog occurrence.
package confirm

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/zeebo/blake3"

	"github.com/lim1712/orchestrator/internal/classifier"
)

// Dispatch errors
var (
	ErrDispatchTimeout = errors.New("confirm dispatch timed out")
	ErrDispatchFailure = errors.New("confirm dispatch failed")
)

// State is a per-instance machine state.
type State string

const (
	StateIdle           State = "idle"
	StateDialogDetected State = "dialog-detected"
	StateActionPending  State = "action-pending"
	StateActionSent     State = "action-sent"
	StateCooldown       State = "cooldown"
)

// Action is what happened to a detected dialog.
type Action string

const (
	ActionConfirmed      Action = "confirmed"
	ActionSkippedUnsafe  Action = "skipped-unsafe"
	ActionSkippedUnknown Action = "skipped-unknown"
	ActionError          Action = "error"
	ActionUnresolved     Action = "unresolved" // retries exhausted, fingerprint skipped from now on
)

// Event is an append-only record of one decision about one dialog.
type Event struct {
	ID          string    `json:"id"`
	InstanceID  string    `json:"instance_id"`
	Timestamp   time.Time `json:"timestamp"`
	Action      Action    `json:"action"`
	Fingerprint string    `json:"fingerprint"`
	RuleID      string    `json:"rule_id,omitempty"`
	Title       string    `json:"title"`
	Attempt     int       `json:"attempt,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Dialog is one classified window belonging to an instance.
type Dialog struct {
	Ref            string
	Title          string
	Foreground     bool
	Classification classifier.Classification
}

// Dispatcher sends the confirm keystroke or click to a window.
type Dispatcher interface {
	SendConfirm(ctx context.Context, ref string) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, ref string) error

// SendConfirm implements Dispatcher.
func (f DispatcherFunc) SendConfirm(ctx context.Context, ref string) error { return f(ctx, ref) }

// Config holds the machine tunables. The defaults are starting points, not
// measured values; tune them per deployment.
type Config struct {
	Cooldown        time.Duration `yaml:"cooldown"`
	MaxRetries      int           `yaml:"max_retries"`
	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`
	Command         []string      `yaml:"command"` // dispatch helper; the window ref is appended
}

// DefaultConfig returns the default tunables.
func DefaultConfig() *Config {
	return &Config{
		Cooldown:        3 * time.Second,
		MaxRetries:      3,
		DispatchTimeout: 5 * time.Second,
	}
}

// Fingerprint identifies one dialog occurrence on one instance.
func Fingerprint(instanceID, ruleID, normalizedTitle string) string {
	sum := blake3.Sum256([]byte(instanceID + "\x00" + ruleID + "\x00" + normalizedTitle))
	return hex.EncodeToString(sum[:16])
}
