// Package engine reconciles a loaded stack against a runtime: building
// images, starting the declared replicas, supervising them with restart
// policies, and recording every transition to storage.
package engine

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ttngu207/stackrun/internal/compose"
	"github.com/ttngu207/stackrun/internal/runtime"
	"github.com/ttngu207/stackrun/internal/storage"
)

// Config holds engine configuration.
type Config struct {
	Store   storage.Storage
	Runtime runtime.Runtime
	Logger  *logrus.Logger

	// BackoffBase is the first restart delay for a crashing replica.
	BackoffBase time.Duration
	// BackoffCap bounds the exponential restart delay.
	BackoffCap time.Duration
	// BackoffResetAfter resets the delay once a replica has run
	// healthily for this long.
	BackoffResetAfter time.Duration
	// RestartsPerSecond rate-limits restarts across the whole stack so
	// one crash-looping service cannot monopolize the runtime.
	RestartsPerSecond float64
	// RestartBurst is the rate limiter burst.
	RestartBurst int
	// MaxLogLines caps stored log_line events per replica run.
	MaxLogLines int
}

// DefaultConfig returns default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		BackoffBase:       time.Second,
		BackoffCap:        time.Minute,
		BackoffResetAfter: 10 * time.Second,
		RestartsPerSecond: 2,
		RestartBurst:      4,
		MaxLogLines:       10000,
	}
}

// Engine supervises the replicas of one or more projects.
type Engine struct {
	store      storage.Storage
	rt         runtime.Runtime
	logger     *logrus.Logger
	limiter    *rate.Limiter
	cfg        *Config
	instanceID string
	hostname   string

	mu      sync.Mutex
	running map[string]runtime.Replica // replica record ID -> live handle
}

// New creates an engine. Store and Runtime are required.
func New(cfg *Config) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Runtime == nil {
		return nil, fmt.Errorf("runtime is required")
	}
	defaults := DefaultConfig()
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaults.BackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = defaults.BackoffCap
	}
	if cfg.BackoffResetAfter <= 0 {
		cfg.BackoffResetAfter = defaults.BackoffResetAfter
	}
	if cfg.RestartsPerSecond <= 0 {
		cfg.RestartsPerSecond = defaults.RestartsPerSecond
	}
	if cfg.RestartBurst <= 0 {
		cfg.RestartBurst = defaults.RestartBurst
	}
	if cfg.MaxLogLines <= 0 {
		cfg.MaxLogLines = defaults.MaxLogLines
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	hostname, _ := os.Hostname()

	return &Engine{
		store:      cfg.Store,
		rt:         cfg.Runtime,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RestartsPerSecond), cfg.RestartBurst),
		cfg:        cfg,
		instanceID: uuid.New().String(),
		hostname:   hostname,
	}, nil
}

// trackReplica registers a live replica handle for shutdown.
func (e *Engine) trackReplica(id string, r runtime.Replica) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running == nil {
		e.running = make(map[string]runtime.Replica)
	}
	e.running[id] = r
}

// untrackReplica removes a replica after it has fully stopped.
func (e *Engine) untrackReplica(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, id)
}

// selectServices picks the requested services (all when names is empty)
// plus their transitive dependencies, in start order.
func selectServices(project *compose.Project, names []string) ([]*compose.Service, error) {
	wanted := map[string]bool{}
	if len(names) == 0 {
		for _, name := range project.ServiceNames() {
			wanted[name] = true
		}
	} else {
		var mark func(name string) error
		mark = func(name string) error {
			if wanted[name] {
				return nil
			}
			svc, err := project.Service(name)
			if err != nil {
				return err
			}
			wanted[name] = true
			for _, dep := range svc.DependsOn {
				if err := mark(dep); err != nil {
					return err
				}
			}
			return nil
		}
		for _, name := range names {
			if err := mark(name); err != nil {
				return nil, err
			}
		}
	}

	var selected []*compose.Service
	for _, name := range project.StartOrder() {
		if wanted[name] {
			selected = append(selected, project.Services[name])
		}
	}
	return selected, nil
}
