package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/indexsync/internal/metadata"
)

// Scenario defines a scenario test.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Schema holds the DDL statements creating the record tables.
	Schema []string `yaml:"schema,omitempty"`

	// Records maps a table name to the rows inserted before setup.
	Records map[string][]map[string]any `yaml:"records,omitempty"`

	Entities []metadata.EntityType `yaml:"entities"`

	// PageSize and BatchSize default to the engine defaults when zero.
	PageSize  int `yaml:"page_size,omitempty"`
	BatchSize int `yaml:"batch_size,omitempty"`

	// FailWrites lists entity types whose index writes fail.
	FailWrites []string `yaml:"fail_writes,omitempty"`

	// Setup steps must succeed; they carry no expectations.
	Setup []Step `yaml:"setup,omitempty"`

	Flow []Step `yaml:"flow"`

	Assertions []Assertion `yaml:"assertions"`
}

// Step is one engine operation.
type Step struct {
	Op      string   `yaml:"op"`
	Entity  string   `yaml:"entity,omitempty"`
	IDs     []string `yaml:"ids,omitempty"`
	N       int      `yaml:"n,omitempty"`
	Restart bool     `yaml:"restart,omitempty"`
	Expect  *Expect  `yaml:"expect,omitempty"`
}

// Expect is the expected outcome of a flow step.
type Expect struct {
	// Count is the expected count of count operations.
	Count *int `yaml:"count,omitempty"`

	// OK is the expected result of session transitions.
	OK *bool `yaml:"ok,omitempty"`

	// Error, if set, is a substring the step's error must contain.
	Error string `yaml:"error,omitempty"`
}

// Operation names.
const (
	OpInit          = "init"
	OpInitAll       = "init_all"
	OpSuspend       = "suspend"
	OpResume        = "resume"
	OpStop          = "stop"
	OpRemove        = "remove"
	OpProcess       = "process"
	OpEnqueueIndex  = "enqueue_index"
	OpEnqueueDelete = "enqueue_delete"
	OpEnqueueAll    = "enqueue_all"
	OpBatch         = "batch"
	OpDrain         = "drain"
	OpEmpty         = "empty"
)

// boolOps report ok rather than a count.
var boolOps = []string{OpInit, OpSuspend, OpResume, OpStop, OpRemove}

var countOps = []string{
	OpInitAll, OpProcess, OpEnqueueIndex, OpEnqueueDelete,
	OpEnqueueAll, OpBatch, OpDrain, OpEmpty,
}

// entityOps require an entity.
var entityOps = []string{OpInit, OpSuspend, OpResume, OpStop, OpRemove, OpEnqueueIndex, OpEnqueueDelete}

// Assertion validates the writes or the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Op and Entity select writes (write_contains, write_count).
	Op     string `yaml:"op,omitempty"`
	Entity string `yaml:"entity,omitempty"`

	// IDs must all have been applied (write_contains).
	IDs []string `yaml:"ids,omitempty"`

	// Writes is the expected order of "OP Entity" groups (write_order).
	Writes []string `yaml:"writes,omitempty"`

	// Table, Where and Expect select and check rows (final_state, row_count).
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of writer calls or rows.
	Count *int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertWriteContains = "write_contains"
	AssertWriteOrder    = "write_order"
	AssertWriteCount    = "write_count"
	AssertFinalState    = "final_state"
	AssertRowCount      = "row_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
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
	if len(s.Entities) == 0 {
		return fmt.Errorf("entities list is required and must be non-empty")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for table, rows := range s.Records {
		if !validIdentifier.MatchString(table) {
			return fmt.Errorf("records: invalid table name %q", table)
		}
		for i, row := range rows {
			for col := range row {
				if !validIdentifier.MatchString(col) {
					return fmt.Errorf("records.%s[%d]: invalid column name %q", table, i, col)
				}
			}
		}
	}

	for i, step := range s.Setup {
		if err := validateStep("setup", i, step); err != nil {
			return err
		}
		if step.Expect != nil {
			return fmt.Errorf("setup[%d]: expect is only allowed in flow", i)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep("flow", i, step); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(section string, i int, step Step) error {
	isBool := slices.Contains(boolOps, step.Op)
	if !isBool && !slices.Contains(countOps, step.Op) {
		return fmt.Errorf("%s[%d]: unknown op %q", section, i, step.Op)
	}
	if slices.Contains(entityOps, step.Op) && step.Entity == "" {
		return fmt.Errorf("%s[%d]: entity is required for %s", section, i, step.Op)
	}
	if (step.Op == OpEnqueueIndex || step.Op == OpEnqueueDelete) && len(step.IDs) == 0 {
		return fmt.Errorf("%s[%d]: ids are required for %s", section, i, step.Op)
	}
	if step.N < 0 {
		return fmt.Errorf("%s[%d]: n must not be negative", section, i)
	}
	if step.Expect != nil {
		if isBool && step.Expect.Count != nil {
			return fmt.Errorf("%s[%d].expect: %s reports ok, not count", section, i, step.Op)
		}
		if !isBool && step.Expect.OK != nil {
			return fmt.Errorf("%s[%d].expect: %s reports count, not ok", section, i, step.Op)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertWriteContains:
		if a.Op == "" || a.Entity == "" || len(a.IDs) == 0 {
			return fmt.Errorf("assertions[%d]: op, entity and ids are required for write_contains", index)
		}
	case AssertWriteOrder:
		if len(a.Writes) == 0 {
			return fmt.Errorf("assertions[%d]: writes list is required for write_order", index)
		}
	case AssertWriteCount:
		if a.Op == "" || a.Entity == "" {
			return fmt.Errorf("assertions[%d]: op and entity are required for write_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be a non-negative number for write_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertRowCount:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for row_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be a non-negative number for row_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown type %q", index, a.Type)
	}
	return nil
}
