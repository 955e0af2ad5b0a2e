package plugin

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cognicore/openbr/pkg/br/brerr"
	"github.com/cognicore/openbr/pkg/br/template"
)

// StageFactory builds a stage from its parsed arguments.
type StageFactory func(args Args) (Stage, error)

// DistanceFactory builds a distance from its parsed arguments.
type DistanceFactory func(args Args) (Distance, error)

var (
	registryMu sync.RWMutex
	stages     = map[string]StageFactory{}
	distances  = map[string]DistanceFactory{}
)

// Register makes a stage available by name. It panics on duplicates, as
// registration happens from init functions.
func Register(name string, factory StageFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := stages[name]; dup {
		panic("plugin: Register called twice for stage " + name)
	}
	stages[name] = factory
}

// RegisterDistance makes a distance available by name.
func RegisterDistance(name string, factory DistanceFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := distances[name]; dup {
		panic("plugin: RegisterDistance called twice for distance " + name)
	}
	distances[name] = factory
}

// Stages lists the registered stage names.
func Stages() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(stages))
	for name := range stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Distances lists the registered distance names.
func Distances() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(distances))
	for name := range distances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupStage(name string) (StageFactory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := stages[name]
	return f, ok
}

func lookupDistance(name string) (DistanceFactory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := distances[name]
	return f, ok
}

// Resolver is consulted for stage names no plugin is registered under,
// e.g. references to other algorithms. ok=false means "not mine". The
// resolver owns the interpretation of args.
type Resolver func(name string, args Args) (s Stage, ok bool, err error)

// Builder turns descriptions into stages and distances.
type Builder struct {
	Resolve Resolver
}

// Make builds a stage from "Name", "Name(k=v)" or "A+B+C".
func (b Builder) Make(desc string) (Stage, error) {
	desc = unwrap(strings.TrimSpace(desc))
	if desc == "" {
		return nil, fmt.Errorf("%w: empty stage description", brerr.ErrInvalidDescriptor)
	}

	if parts := template.SplitTopLevel(desc, '+'); len(parts) > 1 {
		children := make([]Stage, 0, len(parts))
		for _, part := range parts {
			child, err := b.Make(part)
			if err != nil {
				closeAll(children)
				return nil, err
			}
			children = append(children, child)
		}
		return NewPipe(children...), nil
	}

	name, args, err := ParseCall(desc)
	if err != nil {
		return nil, err
	}
	if factory, ok := lookupStage(name); ok {
		s, err := factory(args)
		if err != nil {
			return nil, fmt.Errorf("make %s: %w", desc, err)
		}
		return s, nil
	}

	if b.Resolve != nil {
		s, ok, err := b.Resolve(name, args)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", desc, err)
		}
		if ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: stage %q", brerr.ErrUnknownPlugin, name)
}

// MakeDistance builds a distance from "Name" or "Name(k=v)".
func (b Builder) MakeDistance(desc string) (Distance, error) {
	name, args, err := ParseCall(unwrap(strings.TrimSpace(desc)))
	if err != nil {
		return nil, err
	}
	factory, ok := lookupDistance(name)
	if !ok {
		return nil, fmt.Errorf("%w: distance %q", brerr.ErrUnknownPlugin, name)
	}
	d, err := factory(args)
	if err != nil {
		return nil, fmt.Errorf("make %s: %w", desc, err)
	}
	return d, nil
}

// Make builds a stage with no resolver.
func Make(desc string) (Stage, error) {
	return Builder{}.Make(desc)
}

// MakeDistance builds a distance with no resolver.
func MakeDistance(desc string) (Distance, error) {
	return Builder{}.MakeDistance(desc)
}

// unwrap strips one pair of parentheses enclosing the whole description.
func unwrap(desc string) string {
	if len(desc) < 2 || desc[0] != '(' || desc[len(desc)-1] != ')' {
		return desc
	}
	depth := 0
	for i := 0; i < len(desc); i++ {
		switch desc[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 && i != len(desc)-1 {
				return desc
			}
		}
	}
	return strings.TrimSpace(desc[1 : len(desc)-1])
}

func closeAll(stages []Stage) {
	for _, s := range stages {
		_ = Close(s)
	}
}
