package domain

// ReassignOutcome is the decision taken for one reassignment event against
// the contract state recorded so far.
type ReassignOutcome int

const (
	// ReassignApply transitions the tracked state.
	ReassignApply ReassignOutcome = iota
	// ReassignMaterialize inserts a contract first observed through an
	// assign event carrying its payload (independent observation of the
	// target domain).
	ReassignMaterialize
	// ReassignIgnore drops the event: the store does not track the contract
	// or the event is a tolerated redelivery.
	ReassignIgnore
	// ReassignConflict rejects the event as a sequencing violation.
	ReassignConflict
)

// EvalReassignment decides how a reassignment event applies to the current
// per-contract state. prev is nil when the store has no live row for the
// contract. The production model tracks a single in-flight flag per contract,
// not per-reassignment-id history, so overlapping reassignments of the same
// contract collapse into one InFlight state.
func EvalReassignment(r *Reassignment, prev *ContractState) (ReassignOutcome, ContractState, error) {
	switch r.Kind {
	case ReassignUnassign:
		if prev == nil {
			// Contract not tracked (filtered out or never seen).
			return ReassignIgnore, ContractState{}, nil
		}
		if prev.Kind == StateInFlight {
			// Redelivered or overlapping unassign; the flag is already set.
			return ReassignIgnore, ContractState{}, nil
		}
		return ReassignApply, ContractState{Kind: StateInFlight}, nil
	case ReassignAssign:
		if prev == nil {
			if r.Contract != nil {
				return ReassignMaterialize, ContractState{Kind: StateAssigned, Domain: r.Target}, nil
			}
			return ReassignIgnore, ContractState{}, nil
		}
		if prev.Kind == StateAssigned {
			return ReassignConflict, ContractState{}, SequencingError{
				Contract: r.ContractID,
				Reason:   "assign received while contract is assigned to " + string(prev.Domain),
			}
		}
		return ReassignApply, ContractState{Kind: StateAssigned, Domain: r.Target}, nil
	default:
		return ReassignConflict, ContractState{}, SequencingError{
			Contract: r.ContractID,
			Reason:   "unknown reassignment kind " + string(r.Kind),
		}
	}
}
