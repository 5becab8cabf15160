// Package actions provides the workflow side of tracklane: a registry of named
// action plugins and a PipelineExecutor that runs a flow's nodes in order.
//
// # Plugins
//
// Every flow node names a plugin by its Type and configures it with Init. The
// built-in plugins are:
//
//   - inject: emits a configured value as the payload
//   - set_trait: writes a profile trait and flags the profile for update and segmentation
//   - merge_profiles: flags the profile for merging on the configured keys
//   - segment_profile: flags the profile for segmentation
//   - read_from_memory / write_to_memory: cross-instance memory backed by Redis
//
// # References
//
// Plugin settings may reference documents with the dot notation used throughout
// tracklane: profile@traits.public.email, event@properties.page,
// session@context.device or payload@value. A plain string without a known prefix
// is taken literally.
package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/tracklane/tracklane/pkg/engine"
)

const (
	// PortError is the port an action returns when it failed.
	PortError = "error"

	// PortSuccess is the default success port.
	PortSuccess = "success"
)

// Result is the output of one action run.
type Result struct {
	Port  string
	Value interface{}
}

// Context is what an action sees while it runs.
type Context struct {
	Flow    *engine.Flow
	Node    engine.FlowNode
	Session *engine.Session
	Profile *engine.Profile
	Event   *engine.Event
	Payload interface{}

	dot *DotAccessor
}

// Dot returns the dot accessor over the current documents. The profile is read
// once per node.
func (c *Context) Dot() (*DotAccessor, error) {
	if c.dot != nil {
		return c.dot, nil
	}
	dot, err := NewDotAccessor(c.Profile, c.Session, c.Event, c.Payload)
	if err != nil {
		return nil, err
	}
	c.dot = dot
	return dot, nil
}

// Action is a configured plugin instance.
type Action interface {
	Run(ctx context.Context, in *Context) (Result, error)
}

// Factory builds an action from a node's init document.
type Factory func(init map[string]interface{}) (Action, error)

// Registry maps plugin names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with every built-in plugin. The memory
// plugins are only registered when memory is not nil.
func DefaultRegistry(memory MemoryClient) *Registry {
	r := NewRegistry()
	r.mustRegister("inject", newInject)
	r.mustRegister("set_trait", newSetTrait)
	r.mustRegister("merge_profiles", newMergeProfiles)
	r.mustRegister("segment_profile", newSegmentProfile)
	if memory != nil {
		r.mustRegister("read_from_memory", newReadFromMemory(memory))
		r.mustRegister("write_to_memory", newWriteToMemory(memory))
	}
	return r
}

// Register adds a factory under name.
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		return fmt.Errorf("plugin name is required")
	}
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("plugin already registered: %s", name)
	}
	r.factories[name] = f
	return nil
}

func (r *Registry) mustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// Build creates the action of a node.
func (r *Registry) Build(node engine.FlowNode) (Action, error) {
	r.mu.RLock()
	f, ok := r.factories[node.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown plugin: %s", node.Type)
	}

	action, err := f(node.Init)
	if err != nil {
		return nil, fmt.Errorf("invalid %s config: %w", node.Type, err)
	}
	return action, nil
}

// Names returns the registered plugin names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// decodeInit decodes a node's init document into cfg and validates it.
func decodeInit(init map[string]interface{}, cfg interface{}) error {
	if init == nil {
		init = map[string]interface{}{}
	}
	data, err := json.Marshal(init)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return err
	}

	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate.Struct(cfg)
}

// failure is the result of an action that handled its own error.
func failure(err error) Result {
	return Result{Port: PortError, Value: map[string]interface{}{"detail": err.Error()}}
}
