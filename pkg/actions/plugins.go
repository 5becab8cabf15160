package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/tracklane/tracklane/pkg/engine"
)

// inject emits a fixed value.
type inject struct {
	value interface{}
}

func newInject(init map[string]interface{}) (Action, error) {
	v, ok := init["value"]
	if !ok {
		v, ok = init["inject"]
	}
	if !ok {
		return nil, fmt.Errorf("inject value not defined")
	}
	return &inject{value: v}, nil
}

func (a *inject) Run(ctx context.Context, in *Context) (Result, error) {
	return Result{Port: "value", Value: a.value}, nil
}

type setTraitConfig struct {
	Trait string      `json:"trait" validate:"required"`
	Value interface{} `json:"value"`
}

// setTrait writes one profile trait.
type setTrait struct {
	scope string
	path  []string
	value interface{}
}

func newSetTrait(init map[string]interface{}) (Action, error) {
	var cfg setTraitConfig
	if err := decodeInit(init, &cfg); err != nil {
		return nil, err
	}

	trait := strings.TrimPrefix(cfg.Trait, RefProfile)
	parts := strings.Split(trait, ".")
	if len(parts) < 3 || parts[0] != "traits" || (parts[1] != "public" && parts[1] != "private") {
		return nil, fmt.Errorf("trait must be under traits.public or traits.private, got %s", cfg.Trait)
	}

	return &setTrait{scope: parts[1], path: parts[2:], value: cfg.Value}, nil
}

func (a *setTrait) Run(ctx context.Context, in *Context) (Result, error) {
	if in.Profile == nil {
		return failure(fmt.Errorf("no profile to set trait on")), nil
	}

	dot, err := in.Dot()
	if err != nil {
		return Result{}, err
	}
	value, err := dot.Resolve(a.value)
	if err != nil {
		return failure(err), nil
	}

	in.Profile.Mutate(func(p *engine.Profile) {
		if p.Traits.Public == nil {
			p.Traits.Public = make(map[string]interface{})
		}
		if p.Traits.Private == nil {
			p.Traits.Private = make(map[string]interface{})
		}
		target := p.Traits.Public
		if a.scope == "private" {
			target = p.Traits.Private
		}
		setPath(target, a.path, value)
		p.Operation.Update = true
		p.Operation.Segment = true
	})

	return Result{Port: PortSuccess, Value: in.Payload}, nil
}

// setPath assigns value at path, replacing any non-map value on the way.
func setPath(m map[string]interface{}, path []string, value interface{}) {
	for _, key := range path[:len(path)-1] {
		next, ok := m[key].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			m[key] = next
		}
		m = next
	}
	m[path[len(path)-1]] = value
}

type mergeProfilesConfig struct {
	Keys []string `json:"keys" validate:"required,min=1,dive,required"`
}

// mergeProfiles requests a merge on the configured profile fields.
type mergeProfiles struct {
	keys []string
}

func newMergeProfiles(init map[string]interface{}) (Action, error) {
	var cfg mergeProfilesConfig
	if err := decodeInit(init, &cfg); err != nil {
		return nil, err
	}

	keys := make([]string, len(cfg.Keys))
	for i, k := range cfg.Keys {
		keys[i] = strings.TrimPrefix(k, RefProfile)
	}
	return &mergeProfiles{keys: keys}, nil
}

func (a *mergeProfiles) Run(ctx context.Context, in *Context) (Result, error) {
	if in.Profile == nil {
		return failure(fmt.Errorf("no profile to merge")), nil
	}

	in.Profile.Mutate(func(p *engine.Profile) {
		p.Operation.Merge = append([]string(nil), a.keys...)
	})
	return Result{Port: PortSuccess, Value: in.Payload}, nil
}

// segmentProfile requests a segmentation pass.
type segmentProfile struct{}

func newSegmentProfile(map[string]interface{}) (Action, error) {
	return segmentProfile{}, nil
}

func (segmentProfile) Run(ctx context.Context, in *Context) (Result, error) {
	if in.Profile == nil {
		return failure(fmt.Errorf("no profile to segment")), nil
	}

	in.Profile.Mutate(func(p *engine.Profile) {
		p.Operation.Segment = true
	})
	return Result{Port: PortSuccess, Value: in.Payload}, nil
}
