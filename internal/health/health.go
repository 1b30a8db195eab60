// Package health checks that a configuration can actually run: helper
// commands resolve, instance roots exist, the rule set compiles and the
// data directory is writable.
package health

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/lim1712/orchestrator/internal/classifier"
	"github.com/lim1712/orchestrator/internal/config"
)

// Status represents a check outcome
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusError
	StatusDisabled
)

// Check represents a health check result
type Check struct {
	Name    string
	Status  Status
	Message string
	Fix     string
}

// Report contains all health check results
type Report struct {
	Helpers   []Check
	Instances []Check
	Config    []Check
}

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// RunChecks performs all health checks based on config
func RunChecks(cfg *config.Config) *Report {
	return &Report{
		Helpers:   checkHelpers(cfg),
		Instances: checkInstances(cfg),
		Config:    checkConfig(cfg),
	}
}

// Summary returns the number of errors and warnings.
func (r *Report) Summary() (errors, warnings int) {
	for _, group := range [][]Check{r.Helpers, r.Instances, r.Config} {
		for _, c := range group {
			switch c.Status {
			case StatusError:
				errors++
			case StatusWarning:
				warnings++
			}
		}
	}
	return errors, warnings
}

func checkHelpers(cfg *config.Config) []Check {
	return []Check{
		helperCheck("enumerate", cfg.Observer.Command, "set observer.command to a window enumeration helper"),
		helperCheck("confirm", cfg.Confirm.Command, "set confirm.command to a helper that accepts a window ref"),
	}
}

func helperCheck(name string, command []string, fix string) Check {
	if len(command) == 0 || command[0] == "" {
		return Check{Name: name, Status: StatusError, Message: "not configured", Fix: fix}
	}
	path, err := lookPath(command[0])
	if err != nil {
		return Check{Name: name, Status: StatusError, Message: command[0] + " not found", Fix: "install it or use an absolute path"}
	}
	return Check{Name: name, Status: StatusOK, Message: path}
}

func checkInstances(cfg *config.Config) []Check {
	if len(cfg.Instances) == 0 {
		return []Check{{
			Name:    "instances",
			Status:  StatusError,
			Message: "none configured",
			Fix:     "add at least one entry under instances:",
		}}
	}

	checks := make([]Check, 0, len(cfg.Instances))
	for _, inst := range cfg.Instances {
		c := Check{Name: inst.ID, Status: StatusOK, Message: inst.Root}
		switch {
		case inst.Root == "":
			c.Status, c.Message, c.Fix = StatusError, "no root", "set root to the install or workspace directory"
		case !isDir(inst.Root):
			c.Status, c.Message, c.Fix = StatusError, inst.Root+" does not exist", "fix root or create the directory"
		case inst.Executable != "" && !isFile(inst.Executable):
			c.Status, c.Message = StatusWarning, "executable "+inst.Executable+" not found, matching by directory only"
		}
		checks = append(checks, c)
	}
	return checks
}

func checkConfig(cfg *config.Config) []Check {
	var checks []Check

	if err := cfg.Validate(); err != nil {
		checks = append(checks, Check{Name: "config", Status: StatusError, Message: err.Error()})
	} else {
		checks = append(checks, Check{Name: "config", Status: StatusOK, Message: "valid"})
	}

	checks = append(checks, rulesCheck(cfg))
	checks = append(checks, storeCheck(cfg.Store.Path))

	if cfg.Budget.Enabled {
		checks = append(checks, Check{
			Name:    "budget",
			Status:  StatusOK,
			Message: fmt.Sprintf("%s, %d capped subscription(s)", cfg.Budget.Period, len(cfg.Budget.Caps)),
		})
	} else {
		checks = append(checks, Check{Name: "budget", Status: StatusDisabled, Message: "disabled"})
	}
	return checks
}

func rulesCheck(cfg *config.Config) Check {
	if cfg.Rules.Path == "" {
		return Check{Name: "rules", Status: StatusWarning, Message: "built-in rules", Fix: "run `orchestrator rules show` and save it to a file to customize"}
	}
	rs, err := classifier.LoadRuleSet(cfg.Rules.Path)
	if err == nil {
		err = classifier.Validate(rs)
	}
	if err != nil {
		return Check{Name: "rules", Status: StatusError, Message: err.Error()}
	}
	return Check{Name: "rules", Status: StatusOK, Message: fmt.Sprintf("%s (%d rules)", cfg.Rules.Path, len(rs.Rules))}
}

func storeCheck(dir string) Check {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Check{Name: "store", Status: StatusError, Message: err.Error()}
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return Check{Name: "store", Status: StatusError, Message: dir + " not writable"}
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return Check{Name: "store", Status: StatusOK, Message: filepath.Clean(dir)}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Symbol returns the symbol for a status
func (s Status) Symbol() string {
	switch s {
	case StatusOK:
		return "✓"
	case StatusWarning:
		return "○"
	case StatusError:
		return "✗"
	case StatusDisabled:
		return "·"
	default:
		return "?"
	}
}
