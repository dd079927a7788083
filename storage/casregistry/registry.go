// Package casregistry lets binaries pick a storage.CAS backend by name, from
// command-line flags or from a config map.
package casregistry

import (
	"flag"
	"fmt"
	"sort"
	"sync"

	"xdao.co/passport/storage"
)

// Flag is one backend setting. Its Name is both the command-line flag and the
// config key.
type Flag struct {
	Name    string
	Default string
	Usage   string
}

// Backend is a build-time plugin that opens a storage.CAS.
//
//	casregistry.MustRegister(casregistry.Backend{ ... })
type Backend struct {
	Name        string
	Description string
	Usage       Usage
	Flags       []Flag

	// Open builds the CAS from settings keyed by flag name. Missing keys mean
	// the flag default. The returned close function may be nil.
	Open func(cfg map[string]string) (storage.CAS, func() error, error)
}

var (
	mu       sync.RWMutex
	backends = map[string]Backend{}
	// flagValues holds the parsed command-line values, keyed by flag name.
	flagValues = map[string]*string{}
)

// Register registers a backend.
func Register(b Backend) error {
	if b.Name == "" {
		return fmt.Errorf("casregistry: backend name is required")
	}
	if b.Open == nil {
		return fmt.Errorf("casregistry: backend %q missing Open", b.Name)
	}
	if b.Usage == 0 {
		return fmt.Errorf("casregistry: backend %q missing Usage", b.Name)
	}

	mu.Lock()
	defer mu.Unlock()
	if _, exists := backends[b.Name]; exists {
		return fmt.Errorf("casregistry: backend %q already registered", b.Name)
	}
	backends[b.Name] = b
	return nil
}

// MustRegister is like Register but panics on error.
func MustRegister(b Backend) {
	if err := Register(b); err != nil {
		panic(err)
	}
}

// List returns backends matching usage, sorted by name.
func List(usage Usage) []Backend {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b.Usage.allows(usage) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns backend names matching usage, sorted.
func Names(usage Usage) []string {
	bs := List(usage)
	n := make([]string, 0, len(bs))
	for _, b := range bs {
		n = append(n, b.Name)
	}
	return n
}

// RegisterFlags adds the flags of every backend matching usage to fs. Call it
// once per process, before parsing.
func RegisterFlags(fs *flag.FlagSet, usage Usage) {
	mu.Lock()
	defer mu.Unlock()
	for _, b := range backends {
		if !b.Usage.allows(usage) {
			continue
		}
		for _, f := range b.Flags {
			if _, done := flagValues[f.Name]; done {
				continue
			}
			flagValues[f.Name] = fs.String(f.Name, f.Default, f.Usage+" (for --backend="+b.Name+")")
		}
	}
}

// Open opens the named backend with the values parsed into flags added by
// RegisterFlags.
func Open(name string, usage Usage) (storage.CAS, func() error, error) {
	b, err := lookup(name, usage)
	if err != nil {
		return nil, nil, err
	}
	cfg := make(map[string]string, len(b.Flags))
	mu.RLock()
	for _, f := range b.Flags {
		if v, ok := flagValues[f.Name]; ok {
			cfg[f.Name] = *v
		}
	}
	mu.RUnlock()
	return b.Open(withDefaults(b, cfg))
}

// OpenWithConfig opens the named backend from cfg. Keys that are not flags
// of the backend are rejected so typos in config files surface early.
func OpenWithConfig(name string, usage Usage, cfg map[string]string) (storage.CAS, func() error, error) {
	b, err := lookup(name, usage)
	if err != nil {
		return nil, nil, err
	}
	known := make(map[string]struct{}, len(b.Flags))
	for _, f := range b.Flags {
		known[f.Name] = struct{}{}
	}
	for k := range cfg {
		if _, ok := known[k]; !ok {
			return nil, nil, fmt.Errorf("casregistry: backend %q has no setting %q", name, k)
		}
	}
	return b.Open(withDefaults(b, cfg))
}

func lookup(name string, usage Usage) (Backend, error) {
	mu.RLock()
	b, ok := backends[name]
	mu.RUnlock()
	if !ok {
		return Backend{}, fmt.Errorf("casregistry: unknown backend %q", name)
	}
	if !b.Usage.allows(usage) {
		return Backend{}, fmt.Errorf("casregistry: backend %q not supported in this binary", name)
	}
	return b, nil
}

func withDefaults(b Backend, cfg map[string]string) map[string]string {
	out := make(map[string]string, len(b.Flags))
	for _, f := range b.Flags {
		out[f.Name] = f.Default
	}
	for k, v := range cfg {
		out[k] = v
	}
	return out
}
