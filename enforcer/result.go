package enforcer

// Status is the outcome of handling one event
type Status string

const (
	StatusSkipped   Status = "skipped"   // not a routed creation call
	StatusDuplicate Status = "duplicate" // event id already claimed
	StatusCompliant Status = "compliant" // all required tags present and valid
	StatusViolation Status = "violation" // tags missing or Environment rejected
)

// Result describes what the handler found and did for one event
type Result struct {
	EventID        string            `json:"event_id"`
	EventName      string            `json:"event_name"`
	Status         Status            `json:"status"`
	Reason         string            `json:"reason,omitempty"`
	Resources      []string          `json:"resources,omitempty"`
	Missing        []string          `json:"missing,omitempty"`
	BadEnvironment bool              `json:"bad_environment"`
	Applied        map[string]string `json:"applied,omitempty"`
	Alerted        bool              `json:"alerted"`
	DryRun         bool              `json:"dry_run,omitempty"`
	Errors         []string          `json:"errors,omitempty"`
}

func (r *Result) addError(err error) {
	r.Errors = append(r.Errors, err.Error())
}
