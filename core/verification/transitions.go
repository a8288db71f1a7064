package verification

// Veriff codes
const (
	CodeStarted               = 7001
	CodeSubmitted             = 7002
	CodeApproved              = 9001
	CodeDeclined              = 9102
	CodeResubmissionRequested = 9103
	CodeExpired               = 9104
	CodeAbandoned             = 9121
)

var (
	eventStatuses = map[int]string{
		CodeStarted:   StatusStarted,
		CodeSubmitted: StatusSubmitted,
	}
	decisionStatuses = map[int]string{
		CodeApproved:              StatusApproved,
		CodeDeclined:              StatusDeclined,
		CodeResubmissionRequested: StatusResubmissionRequested,
		CodeExpired:               StatusExpired,
		CodeAbandoned:             StatusAbandoned,
	}
	// decision status names, used when the code is missing or unknown
	decisionStatusNames = map[string]string{
		"approved":               StatusApproved,
		"declined":               StatusDeclined,
		"resubmission_requested": StatusResubmissionRequested,
		"expired":                StatusExpired,
		"abandoned":              StatusAbandoned,
	}

	statusRanks = map[string]int{
		StatusCreated:               0,
		StatusStarted:               1,
		StatusSubmitted:             2,
		StatusResubmissionRequested: 3,
		StatusApproved:              4,
		StatusDeclined:              4,
		StatusExpired:               4,
		StatusAbandoned:             4,
	}
)

// TargetStatus returns the session status a notification leads to, if any.
func TargetStatus(n Notification) (string, bool) {
	switch n.Kind {
	case KindEvent:
		status, ok := eventStatuses[n.Code]
		return status, ok
	case KindDecision:
		if status, ok := decisionStatuses[n.Code]; ok {
			return status, true
		}
		status, ok := decisionStatusNames[n.Action]
		return status, ok
	}
	return "", false
}

// CanTransition reports whether a session may move from its current state to `to`
// because of a notification for attemptID.
//   - terminal statuses never change;
//   - after a resubmission request, a new attempt starts over;
//   - otherwise a session only moves forward.
func CanTransition(sess Session, to, attemptID string) bool {
	from := sess.Status
	if IsTerminal(from) || from == to {
		return false
	}
	if from == StatusResubmissionRequested {
		if to == StatusStarted || to == StatusSubmitted {
			// events of the declined attempt arriving late are stale
			return attemptID == "" || attemptID != sess.AttemptID
		}
		return true
	}
	return statusRanks[to] > statusRanks[from]
}
