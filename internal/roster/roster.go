// Package roster is the agent directory: who the buffer, licensed and
// retention agents are and what to call them in alerts. It is loaded from a
// YAML file and reloaded when the file changes.
package roster

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/leadcheck/leadcheck/internal/types"
)

// Agent is one roster entry.
type Agent struct {
	ID     string     `yaml:"id" json:"id"`
	Name   string     `yaml:"name" json:"name"`
	Role   types.Role `yaml:"role" json:"role"`
	Email  string     `yaml:"email,omitempty" json:"email,omitempty"`
	Active *bool      `yaml:"active,omitempty" json:"active,omitempty"` // Defaults to true
}

// IsActive reports whether the agent can be offered work.
func (a Agent) IsActive() bool {
	return a.Active == nil || *a.Active
}

type file struct {
	Agents []Agent `yaml:"agents"`
}

// Roster is safe for concurrent use.
type Roster struct {
	mu     sync.RWMutex
	path   string
	agents map[string]Agent
	log    *slog.Logger
}

// New returns a roster holding agents, with no backing file.
func New(agents ...Agent) (*Roster, error) {
	r := &Roster{log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	if err := r.set(agents); err != nil {
		return nil, err
	}
	return r, nil
}

// Load reads the roster file. An empty path gives an empty roster.
func Load(path string, logger *slog.Logger) (*Roster, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Roster{path: path, log: logger, agents: map[string]Agent{}}
	if path == "" {
		return r, nil
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the backing file. On error the current roster is kept.
func (r *Roster) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read roster: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse roster %s: %w", r.path, err)
	}
	return r.set(f.Agents)
}

func (r *Roster) set(agents []Agent) error {
	m := make(map[string]Agent, len(agents))
	for i, a := range agents {
		if a.ID == "" {
			return fmt.Errorf("roster entry %d: id is required", i+1)
		}
		if !a.Role.IsValid() {
			return fmt.Errorf("roster entry %s: invalid role %q", a.ID, a.Role)
		}
		if _, dup := m[a.ID]; dup {
			return fmt.Errorf("roster entry %s: duplicate id", a.ID)
		}
		m[a.ID] = a
	}
	r.mu.Lock()
	r.agents = m
	r.mu.Unlock()
	return nil
}

// Lookup returns the agent with the given id.
func (r *Roster) Lookup(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// DisplayName returns the agent's name, or the id for unknown agents.
func (r *Roster) DisplayName(id string) string {
	if a, ok := r.Lookup(id); ok && a.Name != "" {
		return a.Name
	}
	return id
}

// Agents returns active agents with the given role (all roles when role is
// empty), sorted by name.
func (r *Roster) Agents(role types.Role) []Agent {
	r.mu.RLock()
	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		if a.IsActive() && (role == "" || a.Role == role) {
			out = append(out, a)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Watch reloads the roster whenever its file changes, until ctx is done.
// The parent directory is watched so editors that replace the file are
// seen too.
func (r *Roster) Watch(ctx context.Context) error {
	if r.path == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("roster watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(r.path), err)
	}

	base := filepath.Base(r.path)
	var debounceTimer *time.Timer
	debounceDelay := 250 * time.Millisecond
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, func() {
				if err := r.Reload(); err != nil {
					r.log.Warn("roster reload failed; keeping previous roster", "path", r.path, "error", err)
					return
				}
				r.log.Info("roster reloaded", "path", r.path, "agents", r.Len())
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("roster watcher error", "error", err)
		}
	}
}

// Len returns the number of agents, active or not.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
