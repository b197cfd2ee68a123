package ir

// Version constants for persisted formats.
const (
	// SegmentFormatVersion identifies the canonical segment file layout.
	// Bump it when the set of serialized fields changes.
	SegmentFormatVersion = "1"

	// AgentVersion is the evidence agent version.
	AgentVersion = "0.1.0"
)
