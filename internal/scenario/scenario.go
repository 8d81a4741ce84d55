package scenario

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario describes one run against a fresh backend.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Backend selects the table and ledger: "memory" (default) or "sqlite".
	Backend string `yaml:"backend,omitempty"`

	// StartBlock is the chain height before the first step.
	StartBlock uint32 `yaml:"start_block,omitempty"`

	// NextID starts the id counter somewhere other than zero.
	NextID *uint64 `yaml:"next_id,omitempty"`

	// MaxMessageBytes overrides the store's message bound.
	MaxMessageBytes int `yaml:"max_message_bytes,omitempty"`

	// Accounts funds named accounts before the first step.
	Accounts map[string]uint64 `yaml:"accounts,omitempty"`

	// Steps run in order. A step whose outcome differs from its expect
	// clause fails the scenario but does not stop it.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state and the emitted notifications.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one operation.
type Step struct {
	// Op is one of create, open, get, count, list, advance.
	Op string `yaml:"op"`

	// Caller names the invoking account. Required for create and open.
	Caller string `yaml:"caller,omitempty"`

	// Value is attached to a create.
	Value uint64 `yaml:"value,omitempty"`

	// At moves the chain to this height before the step.
	At *uint32 `yaml:"at,omitempty"`

	// RejectTransfers toggles host transfer rejection before the step.
	// The setting persists for later steps.
	RejectTransfers *bool `yaml:"reject_transfers,omitempty"`

	Args Args `yaml:"args,omitempty"`

	// Expect checks the step outcome. Without it the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Args are the operation arguments. Each op reads only its own fields.
type Args struct {
	Recipient string `yaml:"recipient,omitempty"` // create
	Message   string `yaml:"message,omitempty"`   // create
	Duration  uint32 `yaml:"duration,omitempty"`  // create
	ID        uint64 `yaml:"id,omitempty"`        // open, get
	Account   string `yaml:"account,omitempty"`   // list
	Blocks    uint32 `yaml:"blocks,omitempty"`    // advance
}

// Expect is the expected outcome of a step. Unset fields are not checked.
type Expect struct {
	// Error is the expected error code, e.g. CapsuleIsStillLocked.
	Error string `yaml:"error,omitempty"`

	ID          *uint64  `yaml:"id,omitempty"`
	Count       *uint64  `yaml:"count,omitempty"`
	Found       *bool    `yaml:"found,omitempty"`
	Message     *string  `yaml:"message,omitempty"`
	UnlockBlock *uint32  `yaml:"unlock_block,omitempty"`
	ValueLocked *uint64  `yaml:"value_locked,omitempty"`
	IDs         []uint64 `yaml:"ids,omitempty"`
	Height      *uint32  `yaml:"height,omitempty"`
}

// Assertion validates final state or the notification stream.
type Assertion struct {
	// Type is one of count, balance, present, absent, event_count, event_order.
	Type string `yaml:"type"`

	// Account is the account checked by balance.
	Account string `yaml:"account,omitempty"`

	// ID is the capsule checked by present and absent.
	ID *uint64 `yaml:"id,omitempty"`

	// Kind restricts event_count to one notification kind.
	Kind string `yaml:"kind,omitempty"`

	// Kinds is the expected order for event_order. Other notifications
	// may appear in between.
	Kinds []string `yaml:"kinds,omitempty"`

	// Equals is the expected value for count, balance and event_count.
	Equals *uint64 `yaml:"equals,omitempty"`
}

// Step operations.
const (
	OpCreate  = "create"
	OpOpen    = "open"
	OpGet     = "get"
	OpCount   = "count"
	OpList    = "list"
	OpAdvance = "advance"
)

// Assertion types.
const (
	AssertCount      = "count"
	AssertBalance    = "balance"
	AssertPresent    = "present"
	AssertAbsent     = "absent"
	AssertEventCount = "event_count"
	AssertEventOrder = "event_order"
)

// Backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Load reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a scenario.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	switch s.Backend {
	case "", BackendMemory, BackendSQLite:
	default:
		return fmt.Errorf("unknown backend %q", s.Backend)
	}
	if s.MaxMessageBytes < 0 {
		return fmt.Errorf("max_message_bytes must be non-negative")
	}
	for name := range s.Accounts {
		if name == "" {
			return fmt.Errorf("accounts: empty account name")
		}
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	switch st.Op {
	case OpCreate:
		if st.Args.Recipient == "" {
			return fmt.Errorf("steps[%d]: recipient is required for create", index)
		}
	case OpOpen, OpGet, OpCount, OpList, OpAdvance:
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, st.Op)
	}

	if (st.Op == OpCreate || st.Op == OpOpen) && st.Caller == "" {
		return fmt.Errorf("steps[%d]: caller is required for %s", index, st.Op)
	}
	if st.Value > 0 && st.Op != OpCreate {
		return fmt.Errorf("steps[%d]: value can only be attached to create", index)
	}
	if st.Op == OpList && st.Args.Account == "" {
		return fmt.Errorf("steps[%d]: account is required for list", index)
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertCount:
		if a.Equals == nil {
			return fmt.Errorf("assertions[%d]: equals is required for count", index)
		}
	case AssertBalance:
		if a.Account == "" || a.Equals == nil {
			return fmt.Errorf("assertions[%d]: account and equals are required for balance", index)
		}
	case AssertPresent, AssertAbsent:
		if a.ID == nil {
			return fmt.Errorf("assertions[%d]: id is required for %s", index, a.Type)
		}
	case AssertEventCount:
		if a.Equals == nil {
			return fmt.Errorf("assertions[%d]: equals is required for event_count", index)
		}
	case AssertEventOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for event_order", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
