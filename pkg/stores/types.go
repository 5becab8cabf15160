package stores

import (
	"github.com/tracklane/tracklane/pkg/engine"
)

// Compile-time checks that the views satisfy the engine's collaborator interfaces.
var (
	_ engine.RuleStore    = (*RuleStore)(nil)
	_ engine.FlowResolver = (*FlowStore)(nil)
	_ engine.SegmentStore = (*SegmentStore)(nil)
	_ engine.ProfileStore = (*ProfileStore)(nil)
	_ engine.EventStore   = (*EventStore)(nil)
	_ engine.AuditStore   = (*DebugStore)(nil)
)

// DefaultListLimit is the page size used when a caller passes no limit.
const DefaultListLimit = 50
