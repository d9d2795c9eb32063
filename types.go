package sharedbag

import (
	"encoding/json"
	"time"
)

type LinkKind string

const (
	LinkAddress LinkKind = "address"
	LinkTx      LinkKind = "tx"
	LinkToken   LinkKind = "token"
)

// EmbeddedWalletRequest is the body accepted by POST /api/embedded-wallet.
type EmbeddedWalletRequest struct {
	Email         string `json:"email"`
	EnvironmentID string `json:"environmentId"`
}

type EmbeddedWallet struct {
	WalletAddress string          `json:"walletAddress"`
	Upstream      json.RawMessage `json:"upstream,omitempty"`
}

// Event is published whenever a setup changes.
type Event struct {
	SetupID   string    `json:"setupID"`
	Stage     string    `json:"stage"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}
