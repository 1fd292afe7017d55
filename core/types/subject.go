package types

// SubjectStatus mirrors the lifecycle the job/bounty module reports for a
// subject. The custody core never mutates subject records directly; it asks
// the oracle to transition them.
type SubjectStatus uint8

const (
	SubjectStatusOpen SubjectStatus = iota + 1
	SubjectStatusInProgress
	SubjectStatusCompleted
	SubjectStatusCancelled
	SubjectStatusDisputed
)

func (s SubjectStatus) String() string {
	switch s {
	case SubjectStatusOpen:
		return "open"
	case SubjectStatusInProgress:
		return "in_progress"
	case SubjectStatusCompleted:
		return "completed"
	case SubjectStatusCancelled:
		return "cancelled"
	case SubjectStatusDisputed:
		return "disputed"
	default:
		return "unknown"
	}
}

// SubjectInfo is the oracle's answer about a subject: who funds it, who is
// owed payment for it, and where it stands.
type SubjectInfo struct {
	Owner    Address
	Assignee Address
	Status   SubjectStatus
}
