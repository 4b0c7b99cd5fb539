// Package catalog loads agent definitions and availability windows from YAML
// files and keeps them current while the files change.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/ashureev/leadflow/internal/domain"
)

const reloadDebounce = 250 * time.Millisecond

var errNoAgentFiles = errors.New("no agent files matched")

// File is the layout of one definitions file.
type File struct {
	Agents       []domain.Agent              `yaml:"agents"`
	Availability []domain.AvailabilityWindow `yaml:"availability"`
}

// AvailabilitySink receives availability windows declared in definition files.
type AvailabilitySink interface {
	UpsertAvailability(ctx context.Context, w *domain.AvailabilityWindow) error
}

// Catalog is a read-mostly registry of agents.
type Catalog struct {
	pattern string
	sink    AvailabilitySink
	logger  *slog.Logger

	mu      sync.RWMutex
	byID    map[string]*domain.Agent
	byToken map[string]*domain.Agent
}

// Load reads every file matching pattern (doublestar syntax, e.g.
// "agents/**/*.yaml"). Windows are pushed to sink when it is not nil.
func Load(ctx context.Context, pattern string, sink AvailabilitySink, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{
		pattern: filepath.ToSlash(pattern),
		sink:    sink,
		logger:  logger,
	}
	if err := c.Reload(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads all definition files. On error the previous agents stay in place.
func (c *Catalog) Reload(ctx context.Context) error {
	paths, err := doublestar.FilepathGlob(c.pattern)
	if err != nil {
		return fmt.Errorf("glob %s: %w", c.pattern, err)
	}
	if len(paths) == 0 {
		return fmt.Errorf("%w: %s", errNoAgentFiles, c.pattern)
	}
	sort.Strings(paths)

	byID := make(map[string]*domain.Agent)
	byToken := make(map[string]*domain.Agent)
	var windows []domain.AvailabilityWindow

	for _, path := range paths {
		f, err := readFile(path)
		if err != nil {
			return err
		}
		for i := range f.Agents {
			agent := f.Agents[i]
			if err := normalize(&agent); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if _, dup := byID[agent.ID]; dup {
				return fmt.Errorf("%s: duplicate agent id %q", path, agent.ID)
			}
			byID[agent.ID] = &agent
			if agent.WidgetToken != "" {
				byToken[agent.WidgetToken] = &agent
			}
		}
		windows = append(windows, f.Availability...)
	}

	if c.sink != nil {
		for i := range windows {
			w := windows[i]
			if w.CompanyID == "" {
				return fmt.Errorf("availability window %q has no companyId", w.ID)
			}
			if w.ID == "" {
				w.ID = fmt.Sprintf("%s-%s-%d-%s", w.CompanyID, w.UserID, w.DayOfWeek, w.StartTime)
			}
			if err := c.sink.UpsertAvailability(ctx, &w); err != nil {
				return fmt.Errorf("store availability %s: %w", w.ID, err)
			}
		}
	}

	c.mu.Lock()
	c.byID = byID
	c.byToken = byToken
	c.mu.Unlock()

	c.logger.Info("agent catalog loaded", "files", len(paths), "agents", len(byID), "availability_windows", len(windows))
	return nil
}

func readFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse agent file %s: %w", path, err)
	}
	return &f, nil
}

func normalize(a *domain.Agent) error {
	if a.ID == "" {
		return errors.New("agent without id")
	}
	if a.CompanyID == "" {
		return fmt.Errorf("agent %q has no companyId", a.ID)
	}
	if len(a.FSM.States) == 0 {
		initial := a.FSM.InitialState
		a.FSM = domain.ReferenceFSM()
		if initial != "" {
			a.FSM.InitialState = initial
		}
	}
	if a.FSM.InitialState == "" {
		a.FSM.InitialState = a.FSM.States[0].ID
	}
	for _, s := range a.FSM.States {
		if s.ID == a.FSM.InitialState {
			return nil
		}
	}
	return fmt.Errorf("agent %q: initial state %q is not declared", a.ID, a.FSM.InitialState)
}

// Agent returns the active agent with id.
func (c *Catalog) Agent(id string) (*domain.Agent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.byID[id]
	if !ok || !a.IsActive() {
		return nil, false
	}
	return a, true
}

// AgentByWidgetToken returns the active agent published under token.
func (c *Catalog) AgentByWidgetToken(token string) (*domain.Agent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.byToken[token]
	if !ok || !a.IsActive() {
		return nil, false
	}
	return a, true
}

// Agents returns all agents sorted by id.
func (c *Catalog) Agents() []*domain.Agent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*domain.Agent, 0, len(c.byID))
	for _, a := range c.byID {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Watch reloads the catalog whenever a YAML file under the pattern's base
// directory changes. It blocks until ctx is done.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	base, _ := doublestar.SplitPattern(c.pattern)
	err = filepath.WalkDir(filepath.FromSlash(base), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch %s: %w", base, err)
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = watcher.Add(ev.Name)
					continue
				}
			}
			if !isDefinitionFile(ev.Name) || (ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write)) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if err := c.Reload(ctx); err != nil {
				c.logger.Error("agent catalog reload failed, keeping previous definitions", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("agent catalog watcher error", "error", err)
		}
	}
}

func isDefinitionFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
