// Package apps holds the static registry of known meeting applications used to
// map processes, bundle identifiers and window titles onto a meeting app.
package apps

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed registry.yaml
var registryYAML []byte

// Entry describes one meeting application.
type Entry struct {
	Name          string   `yaml:"name"`
	BundleIDs     []string `yaml:"bundle_ids"`
	Processes     []string `yaml:"processes"`
	MeetingTitles []string `yaml:"meeting_titles"`

	titleRE []*regexp.Regexp
}

// BundleID returns the primary bundle identifier, or "".
func (e *Entry) BundleID() string {
	if len(e.BundleIDs) == 0 {
		return ""
	}
	return e.BundleIDs[0]
}

// MatchesProcess reports whether an executable name belongs to this app.
func (e *Entry) MatchesProcess(proc string) bool {
	base := processBase(proc)
	for _, p := range e.Processes {
		if strings.EqualFold(base, p) {
			return true
		}
	}
	return false
}

// IsMeetingWindow reports whether title looks like the app's call window.
func (e *Entry) IsMeetingWindow(title string) bool {
	for _, re := range e.titleRE {
		if re.MatchString(title) {
			return true
		}
	}
	return false
}

// Registry is an immutable set of entries.
type Registry struct {
	entries []*Entry
}

// Parse builds a registry from YAML.
func Parse(data []byte) (*Registry, error) {
	var doc struct {
		Apps []*Entry `yaml:"apps"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse app registry: %w", err)
	}
	for _, e := range doc.Apps {
		if e.Name == "" {
			return nil, fmt.Errorf("parse app registry: entry without name")
		}
		for _, pat := range e.MeetingTitles {
			re, err := regexp.Compile(pat)
			if err != nil {
				return nil, fmt.Errorf("app %q: title pattern %q: %w", e.Name, pat, err)
			}
			e.titleRE = append(e.titleRE, re)
		}
	}
	return &Registry{entries: doc.Apps}, nil
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the embedded registry. It panics if the embedded file is invalid.
func Default() *Registry {
	defaultOnce.Do(func() {
		reg, err := Parse(registryYAML)
		if err != nil {
			panic(err)
		}
		defaultReg = reg
	})
	return defaultReg
}

// Entries returns all known apps in registry order.
func (r *Registry) Entries() []*Entry { return r.entries }

// Lookup finds an entry by display name or bundle id, case-insensitively.
func (r *Registry) Lookup(nameOrBundle string) (*Entry, bool) {
	for _, e := range r.entries {
		if strings.EqualFold(e.Name, nameOrBundle) {
			return e, true
		}
		for _, b := range e.BundleIDs {
			if strings.EqualFold(b, nameOrBundle) {
				return e, true
			}
		}
	}
	return nil, false
}

// MatchProcess finds the entry owning an executable name.
func (r *Registry) MatchProcess(proc string) (*Entry, bool) {
	for _, e := range r.entries {
		if e.MatchesProcess(proc) {
			return e, true
		}
	}
	return nil, false
}

// Subset returns a registry restricted to the named apps, in the order given.
// Unknown names are returned separately.
func (r *Registry) Subset(names []string) (*Registry, []string) {
	var out []*Entry
	var unknown []string
	for _, n := range names {
		if e, ok := r.Lookup(n); ok {
			out = append(out, e)
		} else {
			unknown = append(unknown, n)
		}
	}
	return &Registry{entries: out}, unknown
}

// processBase strips directories and a trailing ".app" from a process path.
func processBase(proc string) string {
	if i := strings.LastIndexAny(proc, `/\`); i >= 0 {
		proc = proc[i+1:]
	}
	return strings.TrimSuffix(proc, ".app")
}
