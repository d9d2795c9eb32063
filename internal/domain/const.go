package domain

import (
	"encoding/json"
	"fmt"
)

// Kind is the classification of a free-text identity.
type Kind int

const (
	KindUnresolved Kind = iota
	KindAddress
	KindENSName
	KindEmail
	KindInvalid
)

var kindNames = map[Kind]string{
	KindUnresolved: "unresolved",
	KindAddress:    "address",
	KindENSName:    "ens",
	KindEmail:      "email",
	KindInvalid:    "invalid",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "error"
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindUnresolved, fmt.Errorf("unknown identity kind %q", s)
}

// Stage is the step a group setup is currently in.
type Stage int

const (
	StageCollectingIdentities Stage = iota
	StageDeployingAccount
	StageAccountVerified
	StageFundingAccount
	StageCreatingToken
	StageTokenPending
	StageTokenCreated
	StageFailed
)

var stageNames = map[Stage]string{
	StageCollectingIdentities: "collecting-identities",
	StageDeployingAccount:     "deploying-account",
	StageAccountVerified:      "account-verified",
	StageFundingAccount:       "funding-account",
	StageCreatingToken:        "creating-token",
	StageTokenPending:         "token-pending",
	StageTokenCreated:         "token-created",
	StageFailed:               "failed",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "error"
}

func (s Stage) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Stage) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	parsed, err := ParseStage(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func ParseStage(name string) (Stage, error) {
	for s, n := range stageNames {
		if n == name {
			return s, nil
		}
	}
	return StageFailed, fmt.Errorf("unknown stage %q", name)
}

// DefaultSymbolLength is the maximum length of a token symbol.
const DefaultSymbolLength = 5

// MissingDeploymentEvent is recorded when a successful token receipt carries no logs.
const MissingDeploymentEvent = "missing deployment event"
