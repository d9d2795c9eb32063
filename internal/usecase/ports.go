package usecase

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/totegamma/sharedbag"
	"github.com/totegamma/sharedbag/internal/domain"
)

// NameResolver resolves ENS names in both directions.
type NameResolver interface {
	ResolveAddress(ctx context.Context, name string) (common.Address, error)
	ResolveName(ctx context.Context, addr common.Address) (string, error)
}

// WalletProvisioner returns the embedded wallet bound to an email.
type WalletProvisioner interface {
	ProvisionWallet(ctx context.Context, email string) (common.Address, error)
}

// EmbeddedWalletGateway is the upstream embedded-wallet provider.
type EmbeddedWalletGateway interface {
	CreateEmbeddedWallet(ctx context.Context, environmentID, email string) (sharedbag.EmbeddedWallet, error)
}

// AccountDeployer deploys the shared multisig account.
type AccountDeployer interface {
	DeployAccount(ctx context.Context, owners []common.Address, threshold int, salt *big.Int) (common.Address, error)
}

// TokenFactory is the on-chain token launcher.
type TokenFactory interface {
	GenerateSalt(ctx context.Context, deployer common.Address, name, symbol string, supply *big.Int) ([32]byte, common.Address, error)
	DeployToken(ctx context.Context, name, symbol string, supply *big.Int, salt [32]byte, deployer common.Address) (common.Hash, error)
}

// ReceiptWatcher blocks until the receipt of a transaction is available.
type ReceiptWatcher interface {
	WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Funder moves native currency from the initiator to the shared account.
type Funder interface {
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	Transfer(ctx context.Context, to common.Address, amount *big.Int) (common.Hash, error)
}

// SetupRepository persists setup state so a setup can be shown again after
// a restart.
type SetupRepository interface {
	Save(ctx context.Context, state domain.GroupSetupState) error
	Get(ctx context.Context, id string) (domain.GroupSetupState, error)
}

// SetupNotifier fans setup changes out to subscribers.
type SetupNotifier interface {
	Publish(ctx context.Context, channel string, event sharedbag.Event) error
}
