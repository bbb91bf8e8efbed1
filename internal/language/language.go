package language

import (
	"fmt"
	"sort"
)

// Runtime describes how to execute submissions for one language.
type Runtime interface {
	// Name returns the language identifier (e.g., "python", "javascript").
	Name() string

	// Image returns the container image reference for this language.
	Image() string

	// Command returns the argv to execute the given code file.
	Command(codePath string) []string

	// FileExtension returns the extension for submitted code files (e.g., ".py").
	FileExtension() string

	// ScratchExec reports whether the writable scratch area needs exec
	// permission. Interpreted languages run with a noexec scratch; compiled
	// toolchains (go run) must execute the binary they build there.
	ScratchExec() bool

	// TestDriver returns an optional harness driver: a source file written
	// next to the submission that loads it, feeds it the test input and
	// prints the produced value. Languages without a driver return ok=false
	// and the harness runs the submission directly with the input on stdin.
	TestDriver(codePath string) (source string, filename string, command []string, ok bool)
}

// Registry maps language names to their Runtime implementations.
type Registry struct {
	runtimes map[string]Runtime
}

// NewRegistry creates a registry with all supported languages.
func NewRegistry() *Registry {
	r := &Registry{runtimes: make(map[string]Runtime)}
	r.Register(&Python{})
	r.Register(&JavaScript{})
	r.Register(&TypeScript{})
	r.Register(&Bash{})
	r.Register(&Go{})
	return r
}

// Register adds a runtime to the registry.
func (r *Registry) Register(rt Runtime) {
	r.runtimes[rt.Name()] = rt
}

// Get returns the runtime for the given language.
func (r *Registry) Get(name string) (Runtime, error) {
	rt, ok := r.runtimes[name]
	if !ok {
		return nil, fmt.Errorf("unsupported language: %q", name)
	}
	return rt, nil
}

// Supported reports whether the language is registered.
func (r *Registry) Supported(name string) bool {
	_, ok := r.runtimes[name]
	return ok
}

// Names returns all registered language names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.runtimes))
	for name := range r.runtimes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Images returns all container images needed by registered languages.
func (r *Registry) Images() []string {
	images := make([]string, 0, len(r.runtimes))
	for _, rt := range r.runtimes {
		images = append(images, rt.Image())
	}
	return images
}
