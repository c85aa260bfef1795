package correlate

import "time"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for threshold comparisons. Unknown values rank
// below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

type Type string

const (
	TypeEntropy  Type = "entropy"
	TypeBurst    Type = "burst"
	TypeVSS      Type = "vss"
	TypeCombined Type = "combined"
)

// Alert is one classified detection. DedupKey identifies the (scope or
// path, type) pair used for suppression and stays internal; ActionTaken
// is stamped once by the mitigation decider after classification.
type Alert struct {
	ID          string            `json:"id"`
	Type        Type              `json:"type"`
	Severity    Severity          `json:"severity"`
	Message     string            `json:"message"`
	Path        string            `json:"path,omitempty"`
	Scope       string            `json:"scope,omitempty"`
	ProcessName string            `json:"process_name,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	DedupKey    string            `json:"-"`
	ActionTaken string            `json:"action_taken,omitempty"`
	Evidence    map[string]string `json:"evidence,omitempty"`
}
