package compose

import (
	"fmt"
	"time"
)

// DefaultStopGracePeriod is how long a replica gets to exit after a
// stop signal before it is killed.
const DefaultStopGracePeriod = 10 * time.Second

// Validate checks the normalized project for declaration errors. Errors
// name the offending service and field.
func (p *Project) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("project name is empty")
	}
	for name, svc := range p.Services {
		if err := svc.Validate(); err != nil {
			return fmt.Errorf("service %s: %w", name, err)
		}
		for _, dep := range svc.DependsOn {
			if _, ok := p.Services[dep]; !ok {
				return fmt.Errorf("service %s: depends_on references undefined service %q", name, dep)
			}
		}
	}
	if cycle := p.dependencyCycle(); cycle != "" {
		return fmt.Errorf("dependency cycle: %s", cycle)
	}
	return nil
}

// Validate checks a single service's declaration.
func (s *Service) Validate() error {
	if !serviceNameRe.MatchString(s.Name) {
		return fmt.Errorf("invalid service name %q", s.Name)
	}
	if s.Image == "" && s.Build == nil {
		return fmt.Errorf("needs image or build")
	}
	if _, _, err := ParseRestartPolicy(string(s.Restart)); err != nil {
		return err
	}
	if s.Scale < 0 {
		return fmt.Errorf("scale cannot be negative (got %d)", s.Scale)
	}
	if s.Deploy != nil {
		if s.Deploy.Replicas != nil && *s.Deploy.Replicas < 0 {
			return fmt.Errorf("deploy.replicas cannot be negative (got %d)", *s.Deploy.Replicas)
		}
		if s.Deploy.Resources != nil && s.Deploy.Resources.Limits != nil {
			if s.Deploy.Resources.Limits.CPUs < 0 {
				return fmt.Errorf("deploy.resources.limits.cpus cannot be negative")
			}
		}
	}
	targets := map[string]bool{}
	for _, mount := range s.Volumes {
		if mount.Target == "" {
			return fmt.Errorf("volume %s has no target", mount)
		}
		if targets[mount.Target] {
			return fmt.Errorf("duplicate volume target %s", mount.Target)
		}
		targets[mount.Target] = true
	}
	return nil
}

// dependencyCycle returns a human-readable cycle through depends_on, or
// "" when the graph is acyclic.
func (p *Project) dependencyCycle() string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current path
		black = 2 // done
	)
	state := map[string]int{}
	var path []string

	var visit func(name string) string
	visit = func(name string) string {
		switch state[name] {
		case gray:
			return name
		case black:
			return ""
		}
		state[name] = gray
		path = append(path, name)
		for _, dep := range p.Services[name].DependsOn {
			if start := visit(dep); start != "" {
				return start
			}
		}
		path = path[:len(path)-1]
		state[name] = black
		return ""
	}

	for _, name := range p.ServiceNames() {
		path = path[:0]
		if start := visit(name); start != "" {
			// Trim the path down to the cycle itself.
			cycle := ""
			inCycle := false
			for _, n := range path {
				if n == start {
					inCycle = true
				}
				if inCycle {
					cycle += n + " -> "
				}
			}
			return cycle + start
		}
	}
	return ""
}

// StartOrder returns service names in dependency order: every service
// appears after all services it depends_on. Validate must have passed.
func (p *Project) StartOrder() []string {
	var order []string
	done := map[string]bool{}
	var visit func(name string)
	visit = func(name string) {
		if done[name] {
			return
		}
		done[name] = true
		for _, dep := range p.Services[name].DependsOn {
			visit(dep)
		}
		order = append(order, name)
	}
	for _, name := range p.ServiceNames() {
		visit(name)
	}
	return order
}
