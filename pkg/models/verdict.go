package models

// Verdict is a reviewer's or voter's judgement on a piece of work.
type Verdict string

const (
	// VerdictApprove accepts the work as-is.
	VerdictApprove Verdict = "APPROVE"
	// VerdictConditional accepts the work with non-blocking findings.
	VerdictConditional Verdict = "CONDITIONAL"
	// VerdictBlock rejects the work; another round is required.
	VerdictBlock Verdict = "BLOCK"
	// VerdictReject is a voter's negative ballot in a consensus gate.
	VerdictReject Verdict = "REJECT"
)

// Valid returns true if the verdict is a known value.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictApprove, VerdictConditional, VerdictBlock, VerdictReject:
		return true
	default:
		return false
	}
}

// Accepting returns true if the verdict ends a review cycle.
func (v Verdict) Accepting() bool {
	return v == VerdictApprove || v == VerdictConditional
}
