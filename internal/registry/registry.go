// Package registry holds the set of monitored editor instances.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Liveness is the observed process state of an instance.
type Liveness string

const (
	LivenessUnknown      Liveness = "unknown"
	LivenessStarting     Liveness = "starting"
	LivenessRunning      Liveness = "running"
	LivenessUnresponsive Liveness = "unresponsive"
	LivenessStopped      Liveness = "stopped"
)

// ErrUnknownInstance is returned when an ID has never been registered.
var ErrUnknownInstance = errors.New("unknown instance")

// ConfigError reports an instance configuration that cannot be registered.
type ConfigError struct {
	ID     string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("instance %q: %s: %v", e.ID, e.Reason, e.Err)
	}
	return fmt.Sprintf("instance %q: %s", e.ID, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// InstanceConfig is the static description of one editor instance.
type InstanceConfig struct {
	ID           string `yaml:"id"`
	Label        string `yaml:"label"`
	Root         string `yaml:"root"`         // install or workspace directory
	Executable   string `yaml:"executable"`   // full path of the editor binary
	Subscription string `yaml:"subscription"` // billing tier of the assistant, e.g. "student"
}

// Instance is a registered editor instance.
type Instance struct {
	ID           string
	Label        string
	Root         string
	Executable   string
	Subscription string
	LastSeen     time.Time
	Liveness     Liveness
}

// Registry owns Instance records. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	order     []string
	instances map[string]*Instance
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{instances: make(map[string]*Instance)}
}

// Register adds or updates an instance. Re-registering an ID updates the
// configuration fields and keeps liveness and last-seen history.
func (r *Registry) Register(cfg InstanceConfig) (Instance, error) {
	id := strings.TrimSpace(cfg.ID)
	if id == "" {
		return Instance{}, &ConfigError{ID: cfg.ID, Reason: "missing id"}
	}

	root, err := resolveRoot(cfg.Root)
	if err != nil {
		return Instance{}, &ConfigError{ID: id, Reason: "unresolvable root", Err: err}
	}

	exe := cfg.Executable
	if exe != "" {
		exe = filepath.Clean(expandHome(exe))
	}
	label := cfg.Label
	if label == "" {
		label = id
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[id]
	if !ok {
		inst = &Instance{ID: id, Liveness: LivenessUnknown}
		r.instances[id] = inst
		r.order = append(r.order, id)
	}
	inst.Label = label
	inst.Root = root
	inst.Executable = exe
	inst.Subscription = cfg.Subscription

	return *inst, nil
}

// List returns copies of all instances in registration order.
func (r *Registry) List() []Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Instance, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.instances[id])
	}
	return out
}

// UpdateLiveness records an observed liveness. A zero seenAt leaves LastSeen
// unchanged, which is what the observer passes for instances it did not see.
func (r *Registry) UpdateLiveness(id string, l Liveness, seenAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstance, id)
	}
	inst.Liveness = l
	if !seenAt.IsZero() {
		inst.LastSeen = seenAt
	}
	return nil
}

func resolveRoot(root string) (string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return "", errors.New("root is empty")
	}
	abs, err := filepath.Abs(expandHome(root))
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", abs)
	}
	return abs, nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
