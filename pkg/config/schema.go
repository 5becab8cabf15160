package config

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
)

// configSchema constrains .cue configuration files. Every field is optional;
// omitted values keep their defaults.
const configSchema = `
#Duration: string & =~"^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"

#Config: {
	database?: {
		path?: string & !=""
	}
	engine?: {
		rule_cache_ttl?:  #Duration
		max_concurrency?: int & >=0
		debug?:           bool
	}
	segmentation?: {
		dialect?:   "starlark" | "rego"
		max_steps?: int & >=0
	}
	redis?: {
		enabled?:  bool
		addr?:     string
		password?: string
		db?:       int & >=0
	}
	definitions?: {
		paths?:        [...string]
		reload_delay?: #Duration
	}
	telemetry?: {
		service_name?:     string & !=""
		environment?:      string
		log_level?:        "trace" | "debug" | "info" | "warn" | "error" | "fatal"
		log_format?:       "console" | "json"
		log_output?:       string
		tracing_enabled?:  bool
		tracing_exporter?: "otlp" | "stdout" | "none"
		tracing_endpoint?: string
		sampling_rate?:    number & >=0 & <=1
		metrics_enabled?:  bool
		metrics_address?:  string
	}
}
`

// schema compiles the #Config definition. Values unified with it must be
// compiled by the same context.
func schema(ctx *cue.Context) (cue.Value, error) {
	val := ctx.CompileString(configSchema, cue.Filename("schema.cue"))
	if err := val.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to compile config schema: %w", err)
	}
	def := val.LookupPath(cue.ParsePath("#Config"))
	if err := def.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to find #Config: %w", err)
	}
	return def, nil
}

// ValidationError is a configuration problem with its source position.
type ValidationError struct {
	File    string
	Line    int
	Column  int
	Message string
}

func (e ValidationError) Error() string {
	if e.File == "" {
		return e.Message
	}
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
}

// convertCUEErrors flattens a CUE error into positioned validation errors.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range errors.Errors(err) {
		ve := ValidationError{Message: errors.Details(e, nil)}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	return out
}

// ValidationErrors collects every problem found in one file.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}
