package domain

import (
	"slices"
	"time"
)

// GroupSetupState is the full state of one shared-bag setup.
type GroupSetupState struct {
	ID                   string          `json:"id"`
	Stage                Stage           `json:"stage"`
	RetryStage           Stage           `json:"retryStage"`
	Entries              []IdentityEntry `json:"entries"`
	SharedAccountAddress string          `json:"sharedAccountAddress,omitempty"`
	Owners               []string        `json:"owners,omitempty"`
	Threshold            int             `json:"threshold,omitempty"`
	FundingTxHashes      []string        `json:"fundingTxHashes,omitempty"`
	FundedWei            string          `json:"fundedWei,omitempty"`
	TokenName            string          `json:"tokenName,omitempty"`
	TokenSymbol          string          `json:"tokenSymbol,omitempty"`
	TokenAddress         string          `json:"tokenAddress,omitempty"`
	TokenTxHash          string          `json:"tokenTxHash,omitempty"`
	LastError            string          `json:"lastError,omitempty"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

var forward = map[Stage]Stage{
	StageCollectingIdentities: StageDeployingAccount,
	StageDeployingAccount:     StageAccountVerified,
	StageAccountVerified:      StageFundingAccount,
	StageFundingAccount:       StageCreatingToken,
	StageCreatingToken:        StageTokenPending,
	StageTokenPending:         StageTokenCreated,
}

// CanTransition reports whether from -> to is allowed. Stages only move
// forward; Failed is reachable from anywhere and leaves only to a retry
// entry point.
func CanTransition(from, to Stage) bool {
	if to == StageFailed {
		return from != StageFailed && from != StageTokenCreated
	}
	if from == StageFailed {
		return to == StageCollectingIdentities || to == StageCreatingToken
	}
	next, ok := forward[from]
	return ok && next == to
}

// RetryStageFor is the entry point a failure in stage s returns to.
func RetryStageFor(s Stage) Stage {
	switch s {
	case StageCollectingIdentities, StageDeployingAccount:
		return StageCollectingIdentities
	default:
		return StageCreatingToken
	}
}

func NewGroupSetupState(id string, first IdentityEntry) GroupSetupState {
	return GroupSetupState{
		ID:         id,
		Stage:      StageCollectingIdentities,
		RetryStage: StageCollectingIdentities,
		Entries:    []IdentityEntry{first},
		UpdatedAt:  time.Now(),
	}
}

// Transition moves to the given stage and clears LastError.
func (s *GroupSetupState) Transition(to Stage) error {
	if !CanTransition(s.Stage, to) {
		return TransitionError{From: s.Stage, To: to}
	}
	s.Stage = to
	if to != StageFailed {
		s.LastError = ""
	}
	s.UpdatedAt = time.Now()
	return nil
}

// Fail records msg and moves to Failed with the retry entry point of the
// current stage.
func (s *GroupSetupState) Fail(msg string) {
	if s.Stage != StageFailed {
		s.RetryStage = RetryStageFor(s.Stage)
	}
	s.Stage = StageFailed
	s.LastError = msg
	s.UpdatedAt = time.Now()
}

// Retry leaves Failed for the recorded retry stage.
func (s *GroupSetupState) Retry() error {
	if s.Stage != StageFailed {
		return TransitionError{From: s.Stage, To: s.RetryStage}
	}
	return s.Transition(s.RetryStage)
}

// SetSharedAccount records the deployed account address. It is set once.
func (s *GroupSetupState) SetSharedAccount(addr string) error {
	if s.SharedAccountAddress != "" {
		if s.SharedAccountAddress == addr {
			return nil
		}
		return ErrSharedAccountImmutable
	}
	s.SharedAccountAddress = addr
	return nil
}

func (s *GroupSetupState) ValidEntries() []IdentityEntry {
	valid := make([]IdentityEntry, 0, len(s.Entries))
	for _, e := range s.Entries {
		if e.IsValid() {
			valid = append(valid, e)
		}
	}
	return valid
}

func (s *GroupSetupState) EntryIndex(id string) int {
	return slices.IndexFunc(s.Entries, func(e IdentityEntry) bool { return e.ID == id })
}

// Clone returns a deep copy safe to hand out of the owning orchestrator.
func (s GroupSetupState) Clone() GroupSetupState {
	s.Entries = slices.Clone(s.Entries)
	s.Owners = slices.Clone(s.Owners)
	s.FundingTxHashes = slices.Clone(s.FundingTxHashes)
	return s
}

// Threshold is the majority threshold for n invited owners plus the initiator.
func Threshold(n int) int {
	total := n + 1
	return (total + 1) / 2
}
