package keymanagement

import "fmt"

// Phase is a step of the key migration. Phases always run in declaration order.
type Phase int

const (
	PhaseFetching Phase = iota
	PhaseDeriving
	PhaseReencrypting
	PhaseUploading
	PhaseComplete
)

var phaseNames = [...]string{"fetching", "deriving", "reencrypting", "uploading", "complete"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Progress is an immutable snapshot of a running migration
type Progress struct {
	Phase   Phase `json:"phase"`
	Current int   `json:"current"`
	Total   int   `json:"total"`
}

// ProgressFunc observes migration progress. Calls are serialized but may come
// from worker goroutines; the callback must not block for long.
type ProgressFunc func(Progress)

// Status describes the stored key record of a user
type Status int

const (
	StatusMissing Status = iota
	StatusLegacy
	StatusDerived
)

func (s Status) String() string {
	switch s {
	case StatusMissing:
		return "missing"
	case StatusLegacy:
		return "legacy"
	case StatusDerived:
		return "derived"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
