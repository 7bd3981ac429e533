package conformance

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Case is a named conformance test.
type Case struct {
	Name     string
	Scenario Scenario
	Run      func(ctx context.Context, d *Driver, s Scenario) (*Result, error)
}

// OpusDTXCase checks that enabling Opus DTX substantially reduces output
// over long silence.
var OpusDTXCase = Case{
	Name:     "Test the Opus DTX flag works.",
	Scenario: DefaultScenario(),
	Run:      runReduction,
}

func runReduction(ctx context.Context, d *Driver, s Scenario) (*Result, error) {
	res, err := d.Run(ctx, s)
	if err != nil {
		return res, err
	}
	return res, Evaluate(res, s.MaxRatio)
}

var registry = struct {
	mu    sync.RWMutex
	cases map[string]Case
}{cases: map[string]Case{OpusDTXCase.Name: OpusDTXCase}}

// Register adds c. Names must be unique.
func Register(c Case) error {
	if c.Name == "" || c.Run == nil {
		return fmt.Errorf("conformance: case needs a name and a run function")
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, dup := registry.cases[c.Name]; dup {
		return fmt.Errorf("conformance: case %q already registered", c.Name)
	}
	registry.cases[c.Name] = c
	return nil
}

// Lookup returns the case registered under name.
func Lookup(name string) (Case, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	c, ok := registry.cases[name]
	return c, ok
}

// Cases returns every registered case sorted by name.
func Cases() []Case {
	registry.mu.RLock()
	out := make([]Case, 0, len(registry.cases))
	for _, c := range registry.cases {
		out = append(out, c)
	}
	registry.mu.RUnlock()
	slices.SortFunc(out, func(a, b Case) int { return strings.Compare(a.Name, b.Name) })
	return out
}
