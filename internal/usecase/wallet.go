package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"

	"github.com/totegamma/sharedbag"
	"github.com/totegamma/sharedbag/internal/domain"
	"github.com/totegamma/sharedbag/internal/metrics"
)

var walletTracer = otel.Tracer("wallet")

// WalletUsecase provisions embedded wallets for invited emails.
type WalletUsecase struct {
	gateway       EmbeddedWalletGateway
	environmentID string
}

func NewWalletUsecase(gateway EmbeddedWalletGateway, environmentID string) *WalletUsecase {
	return &WalletUsecase{gateway: gateway, environmentID: environmentID}
}

// Provision validates the request before calling the provider.
func (uc *WalletUsecase) Provision(ctx context.Context, req sharedbag.EmbeddedWalletRequest) (sharedbag.EmbeddedWallet, error) {
	ctx, span := walletTracer.Start(ctx, "Wallet.Usecase.Provision")
	defer span.End()

	email := strings.TrimSpace(req.Email)
	if email == "" || req.EnvironmentID == "" {
		metrics.RecordEmbeddedWallet("invalid")
		return sharedbag.EmbeddedWallet{}, domain.ValidationError{Message: "Email and environmentId are required"}
	}
	if !sharedbag.IsEmail(email) {
		metrics.RecordEmbeddedWallet("invalid")
		return sharedbag.EmbeddedWallet{}, domain.ValidationError{Message: "Invalid email format"}
	}

	wallet, err := uc.gateway.CreateEmbeddedWallet(ctx, req.EnvironmentID, email)
	if err != nil {
		span.RecordError(err)
		var upstream *domain.UpstreamError
		if errors.As(err, &upstream) {
			metrics.RecordEmbeddedWallet("upstream_error")
		} else {
			metrics.RecordEmbeddedWallet("error")
		}
		return sharedbag.EmbeddedWallet{}, err
	}

	metrics.RecordEmbeddedWallet("ok")
	return wallet, nil
}

// ProvisionWallet implements WalletProvisioner with the configured environment.
func (uc *WalletUsecase) ProvisionWallet(ctx context.Context, email string) (common.Address, error) {
	wallet, err := uc.Provision(ctx, sharedbag.EmbeddedWalletRequest{
		Email:         email,
		EnvironmentID: uc.environmentID,
	})
	if err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(wallet.WalletAddress), nil
}
