package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tracklane/tracklane/pkg/engine"
)

var _ engine.FlowExecutor = (*PipelineExecutor)(nil)

// PipelineExecutor runs a flow's nodes one after another. Each node receives the
// payload the previous node produced; the first node receives the event
// properties. A node that fails or answers on the error port stops the flow.
type PipelineExecutor struct {
	registry *Registry
	logger   zerolog.Logger
	now      func() time.Time
}

// NewPipelineExecutor creates an executor over registry.
func NewPipelineExecutor(registry *Registry, logger zerolog.Logger) *PipelineExecutor {
	return &PipelineExecutor{
		registry: registry,
		logger:   logger.With().Str("component", "pipeline-executor").Logger(),
		now:      time.Now,
	}
}

// Invoke runs flow for event. Node failures are reported in the returned debug
// info, not as an error. Node details are only recorded when debug is set.
func (x *PipelineExecutor) Invoke(ctx context.Context, flow *engine.Flow, session *engine.Session, profile *engine.Profile, event *engine.Event, debug bool) (*engine.DebugInfo, error) {
	info := &engine.DebugInfo{
		Timestamp: x.now().UTC(),
		Event:     engine.Entity{ID: event.ID},
		Flow:      engine.FlowDebugInfo{ID: flow.ID},
	}

	var payload interface{} = event.Properties

	for _, node := range flow.Nodes {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("flow %s interrupted: %w", flow.ID, err)
		}

		start := x.now()
		result, err := x.runNode(ctx, &Context{
			Flow:    flow,
			Node:    node,
			Session: session,
			Profile: profile,
			Event:   event,
			Payload: payload,
		})

		nodeInfo := engine.NodeDebugInfo{
			ID:       node.ID,
			Type:     node.Type,
			Port:     result.Port,
			Duration: x.now().Sub(start),
		}

		if err == nil && result.Port == PortError {
			err = fmt.Errorf("%v", detail(result.Value))
		}
		if err != nil {
			nodeInfo.Error = err.Error()
			info.Flow.Errors = append(info.Flow.Errors, engine.DebugError{
				Class:   engine.ErrorClassExecution,
				Message: fmt.Sprintf("node %s (%s) failed: %v", node.ID, node.Type, err),
			})
			if debug {
				info.Nodes = append(info.Nodes, nodeInfo)
			}

			x.logger.Warn().Err(err).
				Str("flow", flow.ID).
				Str("node", node.ID).
				Str("event_id", event.ID).
				Msg("Node failed")
			break
		}

		if debug {
			info.Nodes = append(info.Nodes, nodeInfo)
		}
		if result.Value != nil {
			payload = result.Value
		}
	}

	return info, nil
}

func (x *PipelineExecutor) runNode(ctx context.Context, in *Context) (Result, error) {
	action, err := x.registry.Build(in.Node)
	if err != nil {
		return Result{Port: PortError}, err
	}
	return action.Run(ctx, in)
}

// detail extracts the message of an error port value.
func detail(v interface{}) interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		if d, ok := m["detail"]; ok {
			return d
		}
	}
	return v
}
