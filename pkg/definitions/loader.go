// Package definitions loads rules, flows, segments, profiles and events from
// YAML or JSON files into the stores, and watches those files for changes.
//
// A definition file holds any of the top level lists:
//
//	rules:
//	  - id: welcome
//	    name: Welcome new visitors
//	    event_type: page_view
//	    enabled: true
//	    flow: {id: welcome-flow}
//	flows:
//	  - id: welcome-flow
//	    enabled: true
//	    nodes:
//	      - {id: n1, type: segment_profile}
//	segments:
//	  - id: visitors
//	    event_type: page_view
//	    condition: 'has("id")'
package definitions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/tracklane/tracklane/pkg/engine"
)

// RecordSaver stores raw definition documents.
type RecordSaver interface {
	Save(ctx context.Context, rec engine.Record) error
}

// ProfileSaver stores profiles.
type ProfileSaver interface {
	BulkSave(ctx context.Context, profiles []*engine.Profile) error
}

// EventSaver stores events.
type EventSaver interface {
	BulkSave(ctx context.Context, events []engine.Event) error
}

// Targets are the stores definitions are written to. Profiles and Events are
// optional.
type Targets struct {
	Rules    RecordSaver
	Flows    RecordSaver
	Segments RecordSaver
	Profiles ProfileSaver
	Events   EventSaver
}

// Definitions is the content of one or more definition files.
type Definitions struct {
	Rules    []engine.Record   `yaml:"rules"`
	Flows    []engine.Record   `yaml:"flows"`
	Segments []engine.Record   `yaml:"segments"`
	Profiles []*engine.Profile `yaml:"profiles"`
	Events   []engine.Event    `yaml:"events"`
}

// Summary counts what Apply stored.
type Summary struct {
	Rules    int
	Flows    int
	Segments int
	Profiles int
	Events   int
	Skipped  int
}

// Loader reads definition files and applies them to the stores.
type Loader struct {
	targets Targets
	logger  zerolog.Logger
}

// NewLoader creates a new definitions loader.
func NewLoader(targets Targets, logger zerolog.Logger) *Loader {
	return &Loader{
		targets: targets,
		logger:  logger.With().Str("component", "definitions-loader").Logger(),
	}
}

// LoadFromPaths reads every definition file under paths. Directories are walked
// recursively for .yaml, .yml and .json files.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) (*Definitions, error) {
	all := &Definitions{}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat path %s: %w", path, err)
		}

		if !info.IsDir() {
			if err := l.loadFile(path, all); err != nil {
				return nil, err
			}
			continue
		}

		err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !IsDefinitionFile(p) {
				return nil
			}
			return l.loadFile(p, all)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk directory %s: %w", path, err)
		}
	}

	return all, nil
}

// IsDefinitionFile reports whether path has a definition file extension.
func IsDefinitionFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

func (l *Loader) loadFile(path string, into *Definitions) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	defs, err := Parse(data)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	into.Rules = append(into.Rules, defs.Rules...)
	into.Flows = append(into.Flows, defs.Flows...)
	into.Segments = append(into.Segments, defs.Segments...)
	into.Profiles = append(into.Profiles, defs.Profiles...)
	into.Events = append(into.Events, defs.Events...)

	l.logger.Debug().
		Str("path", path).
		Int("rules", len(defs.Rules)).
		Int("flows", len(defs.Flows)).
		Int("segments", len(defs.Segments)).
		Msg("Definitions loaded from file")

	return nil
}

// Parse decodes one definition document. JSON documents are accepted as YAML.
func Parse(data []byte) (*Definitions, error) {
	var defs Definitions
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, err
	}

	for i, p := range defs.Profiles {
		if p == nil {
			return nil, fmt.Errorf("profile %d is empty", i)
		}
		if p.Traits.Public == nil {
			p.Traits.Public = map[string]interface{}{}
		}
		if p.Traits.Private == nil {
			p.Traits.Private = map[string]interface{}{}
		}
		if p.Segments == nil {
			p.Segments = []string{}
		}
	}

	return &defs, nil
}

// Apply validates definitions and writes them to the stores. Invalid documents
// are logged and skipped; a store failure stops the load.
func (l *Loader) Apply(ctx context.Context, defs *Definitions) (Summary, error) {
	var sum Summary

	for _, rec := range defs.Flows {
		if _, err := engine.ParseFlow(rec); err != nil {
			l.skip(&sum, "flow", rec, err)
			continue
		}
		if err := l.targets.Flows.Save(ctx, rec); err != nil {
			return sum, fmt.Errorf("failed to save flow: %w", err)
		}
		sum.Flows++
	}

	for _, rec := range defs.Rules {
		if parsed := engine.ParseRule(rec); parsed.Err != nil {
			l.skip(&sum, "rule", rec, parsed.Err)
			continue
		}
		if err := l.targets.Rules.Save(ctx, rec); err != nil {
			return sum, fmt.Errorf("failed to save rule: %w", err)
		}
		sum.Rules++
	}

	for _, rec := range defs.Segments {
		if _, err := engine.ParseSegment(rec); err != nil {
			l.skip(&sum, "segment", rec, err)
			continue
		}
		if err := l.targets.Segments.Save(ctx, rec); err != nil {
			return sum, fmt.Errorf("failed to save segment: %w", err)
		}
		sum.Segments++
	}

	if len(defs.Profiles) > 0 && l.targets.Profiles != nil {
		if err := l.targets.Profiles.BulkSave(ctx, defs.Profiles); err != nil {
			return sum, fmt.Errorf("failed to save profiles: %w", err)
		}
		sum.Profiles = len(defs.Profiles)
	}

	if len(defs.Events) > 0 && l.targets.Events != nil {
		if err := l.targets.Events.BulkSave(ctx, defs.Events); err != nil {
			return sum, fmt.Errorf("failed to save events: %w", err)
		}
		sum.Events = len(defs.Events)
	}

	l.logger.Info().
		Int("rules", sum.Rules).
		Int("flows", sum.Flows).
		Int("segments", sum.Segments).
		Int("profiles", sum.Profiles).
		Int("events", sum.Events).
		Int("skipped", sum.Skipped).
		Msg("Definitions applied")

	return sum, nil
}

// Load reads paths and applies the result.
func (l *Loader) Load(ctx context.Context, paths []string) (Summary, error) {
	defs, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return Summary{}, err
	}
	return l.Apply(ctx, defs)
}

func (l *Loader) skip(sum *Summary, kind string, rec engine.Record, err error) {
	sum.Skipped++
	l.logger.Warn().Err(err).
		Str("kind", kind).
		Interface("id", rec["id"]).
		Msg("Skipping invalid definition")
}
