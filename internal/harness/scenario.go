package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/evidenceledger/internal/ir"
)

// DefaultStart is the first capture instant when a scenario sets none.
const DefaultStart = "2026-01-01T00:00:00Z"

// Scenario defines one ledger test.
type Scenario struct {
	// Name uniquely identifies this scenario. Also the golden file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Start is the RFC 3339 UTC time of the first capture. Each later
	// capture is one second after the previous one.
	Start string `yaml:"start,omitempty"`

	// Steps run in order. The first failing step aborts the run.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after all steps.
	Assertions []Assertion `yaml:"assertions"`
}

// Step operations.
const (
	OpCapture   = "capture"
	OpRecord    = "record"
	OpLedger    = "ledger"
	OpOrphan    = "orphan"
	OpReconcile = "reconcile"
)

// Step is a single action against the ledger. Which fields apply depends
// on Op.
type Step struct {
	Op string `yaml:"op"`

	// As names the segment produced by capture or orphan.
	As string `yaml:"as,omitempty"`

	// Payload and Metadata are the capture input.
	Payload  string         `yaml:"payload,omitempty"`
	Metadata map[string]any `yaml:"metadata,omitempty"`

	// ID and Type register a record.
	ID   string `yaml:"id,omitempty"`
	Type string `yaml:"type,omitempty"`

	// Stage and Outputs form a ledger entry. An empty stage appends a
	// partial entry.
	Stage   string   `yaml:"stage,omitempty"`
	Outputs []string `yaml:"outputs,omitempty"`

	// TS and Blob describe an orphan segment written straight to the
	// segment store, as a crash before registration leaves it.
	TS   string `yaml:"ts,omitempty"`
	Blob string `yaml:"blob,omitempty"`

	// Repair is passed to reconcile.
	Repair bool `yaml:"repair,omitempty"`
}

// Assertion validates the final ledger state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Record and Missing are used by audit_gap.
	Record  string   `yaml:"record,omitempty"`
	Missing []string `yaml:"missing,omitempty"`

	// Stage is used by ledger_count.
	Stage string `yaml:"stage,omitempty"`

	// Count is used by ledger_count and segment_count.
	Count int `yaml:"count,omitempty"`

	// Stages is used by ledger_order.
	Stages []string `yaml:"stages,omitempty"`

	// Types is used by unknown_types.
	Types []string `yaml:"types,omitempty"`
}

// Assertion type constants.
const (
	AssertAuditOK      = "audit_ok"
	AssertAuditGap     = "audit_gap"
	AssertLedgerCount  = "ledger_count"
	AssertLedgerOrder  = "ledger_order"
	AssertSegmentCount = "segment_count"
	AssertUnknownTypes = "unknown_types"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario is LoadScenario for in-memory content.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Start != "" {
		if _, err := ir.ParseTimestamp(s.Start); err != nil {
			return fmt.Errorf("start: %w", err)
		}
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	names := make(map[string]bool)
	for i, step := range s.Steps {
		if err := validateStep(i, step, names); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, names); err != nil {
			return err
		}
	}

	return nil
}

// validateStep checks one step. names collects segment names bound so far
// so references to later or unknown names are rejected up front.
func validateStep(index int, step Step, names map[string]bool) error {
	switch step.Op {
	case OpCapture:
		if _, err := ir.FromAny(step.Metadata); err != nil {
			return fmt.Errorf("steps[%d]: metadata: %w", index, err)
		}
	case OpRecord:
		if step.ID == "" || step.Type == "" {
			return fmt.Errorf("steps[%d]: id and type are required for record", index)
		}
		if err := checkRef(index, step.ID, names); err != nil {
			return err
		}
	case OpLedger:
		if len(step.Outputs) == 0 {
			return fmt.Errorf("steps[%d]: outputs are required for ledger", index)
		}
		for _, out := range step.Outputs {
			if err := checkRef(index, out, names); err != nil {
				return err
			}
		}
	case OpOrphan:
		if step.Blob == "" {
			return fmt.Errorf("steps[%d]: blob is required for orphan", index)
		}
		if _, err := ir.ParseTimestamp(step.TS); err != nil {
			return fmt.Errorf("steps[%d]: ts: %w", index, err)
		}
	case OpReconcile:
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, step.Op)
	}

	if step.As != "" {
		if step.Op != OpCapture && step.Op != OpOrphan {
			return fmt.Errorf("steps[%d]: as is only valid for capture and orphan", index)
		}
		if names[step.As] {
			return fmt.Errorf("steps[%d]: name %q is already bound", index, step.As)
		}
		names[step.As] = true
	}
	return nil
}

func checkRef(index int, value string, names map[string]bool) error {
	name, ok := strings.CutPrefix(value, "$")
	if ok && !names[name] {
		return fmt.Errorf("steps[%d]: unknown segment name %q", index, value)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, names map[string]bool) error {
	switch a.Type {
	case AssertAuditOK:
	case AssertAuditGap:
		if a.Record == "" {
			return fmt.Errorf("assertions[%d]: record is required for audit_gap", index)
		}
		if len(a.Missing) == 0 {
			return fmt.Errorf("assertions[%d]: missing is required for audit_gap", index)
		}
		if name, ok := strings.CutPrefix(a.Record, "$"); ok && !names[name] {
			return fmt.Errorf("assertions[%d]: unknown segment name %q", index, a.Record)
		}
	case AssertLedgerCount:
		if a.Stage == "" {
			return fmt.Errorf("assertions[%d]: stage is required for ledger_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for ledger_count", index)
		}
	case AssertLedgerOrder:
		if len(a.Stages) == 0 {
			return fmt.Errorf("assertions[%d]: stages list is required for ledger_order", index)
		}
	case AssertSegmentCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for segment_count", index)
		}
	case AssertUnknownTypes:
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
