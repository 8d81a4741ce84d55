package scenario

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq     int64            `json:"seq"`
	Op      string           `json:"op"`
	Caller  string           `json:"caller,omitempty"`
	Block   uint32           `json:"block"`
	Value   uint64           `json:"value,omitempty"`
	Args    map[string]any   `json:"args,omitempty"`
	Outcome string           `json:"outcome"` // "ok" or an error code
	Result  map[string]any   `json:"result,omitempty"`
	Events  []map[string]any `json:"events,omitempty"`
}

// OutcomeOK is the outcome of a step that returned no error.
const OutcomeOK = "ok"

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step matched its expect clause and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace has one entry per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors explains each failure. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
