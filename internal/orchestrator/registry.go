package orchestrator

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Entry is one statically listed handler constructor.
type Entry struct {
	Name string
	New  Constructor
}

// Registry holds the handlers available for delegation. It is filled at
// startup and only read afterwards.
type Registry struct {
	mu       sync.RWMutex
	env      *Env
	order    []string
	handlers map[string]Handler
	logger   *zap.Logger
}

func NewRegistry(env *Env) *Registry {
	return &Registry{
		env:      env,
		handlers: make(map[string]Handler),
		logger:   env.logger(),
	}
}

// RegisterAll registers every entry, each isolated from the others'
// failures. It returns the registration errors that were logged.
func (r *Registry) RegisterAll(entries []Entry) []error {
	var errs []error
	for _, e := range entries {
		if err := r.Register(e.Name, e.New); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Register constructs a handler and adds it under its manifest name. A
// constructor error, panic or invalid manifest is logged and the handler
// skipped. A duplicate name replaces the earlier handler but keeps its
// position in List.
func (r *Registry) Register(name string, ctor Constructor) error {
	h, err := construct(r.env, ctor)
	if err == nil {
		err = ValidateManifest(h)
	}
	if err != nil {
		regErr := &RegistrationError{Handler: name, Err: err}
		r.logger.Warn("failed to register agent", zap.String("agent", name), zap.Error(err))
		r.env.recorder().RecordRegistration(name, err)
		return regErr
	}

	key := h.Manifest().Name
	if key != name {
		r.logger.Debug("agent registered under manifest name", zap.String("entry", name), zap.String("agent", key))
	}

	r.mu.Lock()
	if _, exists := r.handlers[key]; exists {
		r.logger.Warn("agent registered twice, replacing", zap.String("agent", key))
	} else {
		r.order = append(r.order, key)
	}
	r.handlers[key] = h
	r.mu.Unlock()

	r.logger.Info("registered agent", zap.String("agent", key), zap.Int("tools", len(h.Tools())))
	r.env.recorder().RecordRegistration(key, nil)
	return nil
}

func construct(env *Env, ctor Constructor) (h Handler, err error) {
	defer func() {
		if p := recover(); p != nil {
			h, err = nil, fmt.Errorf("constructor panicked: %v", p)
		}
	}()
	if ctor == nil {
		return nil, fmt.Errorf("nil constructor")
	}
	h, err = ctor(env)
	if err == nil && h == nil {
		err = fmt.Errorf("constructor returned no handler")
	}
	return h, err
}

func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// List returns handler names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Manifests returns every handler's manifest in registration order.
func (r *Registry) Manifests() []CapabilityManifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CapabilityManifest, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.handlers[name].Manifest())
	}
	return out
}

// Describe renders one line per handler for the supervisor prompt:
//
//	- **<name>**: <description> (capabilities: a, b)
func (r *Registry) Describe() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lines := make([]string, 0, len(r.order))
	for _, name := range r.order {
		m := r.handlers[name].Manifest()
		lines = append(lines, fmt.Sprintf("- **%s**: %s (capabilities: %s)",
			name, m.Description, strings.Join(m.CapabilityNames(), ", ")))
	}
	return strings.Join(lines, "\n")
}
