package entity

// Problem reasons reported by the validator.
const (
	ReasonRequired    = "required"
	ReasonMalformed   = "malformed"
	ReasonHost        = "host"
	ReasonMissing     = "missing"
	ReasonUnreadable  = "unreadable"
	ReasonEmpty       = "empty"
	ReasonFormat      = "format"
	ReasonSize        = "size"
	ReasonNotDir      = "not_directory"
	ReasonNotWritable = "not_writable"
)

type Problem struct {
	Field   string `json:"field"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type ValidationResult struct {
	Valid       bool      `json:"valid"`
	Message     string    `json:"message,omitempty"`
	Suggestions []string  `json:"suggestions"`
	Problems    []Problem `json:"problems,omitempty"`
}

// HasReason reports whether any problem on field carries reason.
func (r ValidationResult) HasReason(field, reason string) bool {
	for _, p := range r.Problems {
		if p.Field == field && p.Reason == reason {
			return true
		}
	}
	return false
}
