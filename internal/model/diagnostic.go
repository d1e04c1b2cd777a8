package model

const (
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Diagnostic is one finding of a conversion run.
type Diagnostic struct {
	Severity string `json:"severity"`
	Stage    string `json:"stage"`
	Entity   string `json:"entity,omitempty"` // e.g. `proxy "ss1"`
	Line     int    `json:"line,omitempty"`
	Message  string `json:"message"`
}
