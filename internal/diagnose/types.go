package diagnose

// Recommendation is one prioritized remediation step from the
// diagnostic model.
type Recommendation struct {
	Priority int    `json:"priority"`
	Action   string `json:"action"`
	Effort   string `json:"effort"`
}

// Report is the diagnostic service's assessment of one error. It is an
// opaque value object downstream: read once, never mutated.
type Report struct {
	Severity        string           `json:"severity"`
	RootCause       string           `json:"root_cause"`
	Impact          string           `json:"impact"`
	Recommendations []Recommendation `json:"recommendations"`
	AutoFixable     bool             `json:"auto_fixable"`
	FixSuggestion   string           `json:"fix_suggestion"`

	// ErrorCode and Target carry the originating fingerprint through
	// the remediation pipeline.
	ErrorCode string `json:"error_code"`
	Target    string `json:"target"`
}

// Actionable reports whether the remediation pipeline should even look
// at this report: the model must have marked the error auto-fixable and
// supplied a concrete fix.
func (r *Report) Actionable() bool {
	return r != nil && r.AutoFixable && r.FixSuggestion != ""
}
