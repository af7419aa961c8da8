package core

import "fmt"

// FlowState is the position of a wallet session in the authentication flow
type FlowState int

const (
	Idle FlowState = iota
	ChallengeRequested
	Signed
	Authenticated
	AgentProvisioned
	AgentApproved
	FullyApproved
)

func (s FlowState) String() string {
	switch s {
	case Idle:
		return "idle"
	case ChallengeRequested:
		return "challenge_requested"
	case Signed:
		return "signed"
	case Authenticated:
		return "authenticated"
	case AgentProvisioned:
		return "agent_provisioned"
	case AgentApproved:
		return "agent_approved"
	case FullyApproved:
		return "fully_approved"
	default:
		return "unknown"
	}
}

// MarshalText lets snapshots and events carry the state by name
func (s FlowState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText
func (s *FlowState) UnmarshalText(text []byte) error {
	for st := Idle; st <= FullyApproved; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown flow state %q", text)
}

// ApprovalState tracks one on-chain approval
type ApprovalState int

const (
	NotAttempted ApprovalState = iota
	Pending
	Approved
	Failed
)

func (s ApprovalState) String() string {
	switch s {
	case NotAttempted:
		return "not_attempted"
	case Pending:
		return "pending"
	case Approved:
		return "approved"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ApprovalStatus is an ApprovalState plus the failure that caused Failed
type ApprovalStatus struct {
	State ApprovalState
	Err   error
}

// Reason names the failure kind, empty unless the approval failed
func (a ApprovalStatus) Reason() string {
	if a.State != Failed || a.Err == nil {
		return ""
	}
	return KindName(a.Err)
}

// String renders the status as failed(reason) for failures
func (a ApprovalStatus) String() string {
	if a.State == Failed {
		return "failed(" + a.Reason() + ")"
	}
	return a.State.String()
}

// MarshalText keeps snapshots readable
func (a ApprovalStatus) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}
