package harness

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every expectation matched.
	Pass bool `json:"pass"`

	// Fields is the request's fieldsToRequest list. Nil when the request
	// could not be compiled.
	Fields []string `json:"fields,omitempty"`

	// Output is the rewritten tree. Nil when the run failed.
	Output map[string]any `json:"output,omitempty"`

	// Error is the message of the error returned by Init or the rewrite,
	// if any.
	Error string `json:"error,omitempty"`

	// Errors contains expectation mismatches.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds a mismatch and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
