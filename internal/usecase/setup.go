package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/totegamma/sharedbag"
	"github.com/totegamma/sharedbag/internal/domain"
	"github.com/totegamma/sharedbag/internal/metrics"
)

var tracer = otel.Tracer("setup")

const defaultWatchTimeout = 3 * time.Minute

// TokenSupply is the fixed supply of launched tokens: 1e9 at 18 decimals.
func TokenSupply() *big.Int {
	decimals := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return new(big.Int).Mul(big.NewInt(1_000_000_000), decimals)
}

type SetupDeps struct {
	Initiator    common.Address
	Deployer     AccountDeployer
	Factory      TokenFactory // nil when the connected chain has no factory
	Receipts     ReceiptWatcher
	Funder       Funder
	Wallets      WalletProvisioner
	Repo         SetupRepository
	Notifier     SetupNotifier
	WatchTimeout time.Duration
}

// GroupSetup drives one shared bag from identity collection to token launch.
// It exclusively owns its GroupSetupState; every stage-advancing operation
// is gated by a single in-flight flag.
type GroupSetup struct {
	deps SetupDeps

	mu          sync.Mutex
	state       domain.GroupSetupState
	inFlight    bool
	watchGen    uint64
	watchCancel context.CancelFunc

	commitMu sync.Mutex
}

func NewGroupSetup(state domain.GroupSetupState, deps SetupDeps) *GroupSetup {
	if deps.WatchTimeout == 0 {
		deps.WatchTimeout = defaultWatchTimeout
	}
	return &GroupSetup{deps: deps, state: state}
}

func (s *GroupSetup) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ID
}

func (s *GroupSetup) Snapshot() domain.GroupSetupState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// AddEntry appends an empty identity slot.
func (s *GroupSetup) AddEntry(ctx context.Context, id string) (domain.IdentityEntry, error) {
	s.mu.Lock()
	if s.state.Stage != domain.StageCollectingIdentities {
		s.mu.Unlock()
		return domain.IdentityEntry{}, domain.TransitionError{From: s.state.Stage, To: domain.StageCollectingIdentities}
	}
	entry := domain.IdentityEntry{ID: id, Kind: domain.KindUnresolved}
	s.state.Entries = append(s.state.Entries, entry)
	s.state.UpdatedAt = time.Now()
	s.mu.Unlock()

	s.commit(ctx)
	return entry, nil
}

// RemoveEntry drops a slot. The last remaining slot cannot be removed.
func (s *GroupSetup) RemoveEntry(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.state.Stage != domain.StageCollectingIdentities {
		s.mu.Unlock()
		return domain.TransitionError{From: s.state.Stage, To: domain.StageCollectingIdentities}
	}
	idx := s.state.EntryIndex(id)
	if idx < 0 {
		s.mu.Unlock()
		return domain.NotFoundError{Resource: "entry"}
	}
	if len(s.state.Entries) <= 1 {
		s.mu.Unlock()
		return domain.ErrLastEntry
	}
	s.state.Entries = append(s.state.Entries[:idx], s.state.Entries[idx+1:]...)
	s.state.UpdatedAt = time.Now()
	s.mu.Unlock()

	s.commit(ctx)
	return nil
}

// UpdateEntry applies a resolver report to the matching slot.
func (s *GroupSetup) UpdateEntry(ctx context.Context, id string, res domain.Resolution) error {
	s.mu.Lock()
	if s.state.Stage != domain.StageCollectingIdentities {
		s.mu.Unlock()
		return domain.TransitionError{From: s.state.Stage, To: domain.StageCollectingIdentities}
	}
	idx := s.state.EntryIndex(id)
	if idx < 0 {
		s.mu.Unlock()
		return domain.NotFoundError{Resource: "entry"}
	}
	s.state.Entries[idx].Apply(res)
	s.state.UpdatedAt = time.Now()
	s.mu.Unlock()

	s.commit(ctx)
	return nil
}

// ConfirmIdentities provisions missing email wallets, then deploys the
// shared account owned by the initiator and every confirmed identity.
func (s *GroupSetup) ConfirmIdentities(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Setup.Usecase.ConfirmIdentities")
	defer span.End()

	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return domain.ErrOperationInFlight
	}
	if s.state.Stage != domain.StageCollectingIdentities {
		s.mu.Unlock()
		return domain.TransitionError{From: s.state.Stage, To: domain.StageDeployingAccount}
	}

	var confirmed []domain.IdentityEntry
	for _, e := range s.state.Entries {
		if e.IsValid() || (e.Kind == domain.KindEmail && e.CanonicalAddress == "") {
			confirmed = append(confirmed, e)
		}
	}
	if len(confirmed) == 0 {
		s.mu.Unlock()
		return domain.ValidationError{Message: "at least one valid identity is required"}
	}

	s.inFlight = true
	s.moveLocked(domain.StageDeployingAccount)
	s.mu.Unlock()
	s.commit(ctx)

	defer s.done()

	// once submitted, a deployment is never aborted by the caller going away
	ctx = context.WithoutCancel(ctx)

	provisioned, err := s.provisionEmails(ctx, confirmed)
	if err != nil {
		span.RecordError(err)
		s.failAndCommit(ctx, err.Error())
		return err
	}

	owners := ownerSet(s.deps.Initiator, provisioned)
	threshold := domain.Threshold(len(owners) - 1)
	salt := big.NewInt(time.Now().UnixMilli())
	span.SetAttributes(attribute.Int("owners", len(owners)), attribute.Int("threshold", threshold))

	account, err := s.deps.Deployer.DeployAccount(ctx, owners, threshold, salt)
	if err != nil {
		span.RecordError(errors.Wrap(err, "GroupSetup.ConfirmIdentities: DeployAccount failed"))
		s.failAndCommit(ctx, fmt.Sprintf("Failed to deploy Safe: %v", err))
		return err
	}

	s.mu.Lock()
	if err := s.state.SetSharedAccount(account.Hex()); err != nil {
		s.failLocked(err.Error())
		s.mu.Unlock()
		s.commit(ctx)
		return err
	}
	for _, e := range provisioned {
		if idx := s.state.EntryIndex(e.ID); idx >= 0 {
			s.state.Entries[idx] = e
		}
	}
	s.state.Owners = make([]string, len(owners))
	for i, o := range owners {
		s.state.Owners[i] = o.Hex()
	}
	s.state.Threshold = threshold
	s.moveLocked(domain.StageAccountVerified)
	s.mu.Unlock()
	s.commit(ctx)

	slog.InfoContext(
		ctx, "shared account deployed",
		slog.String("setup", s.ID()),
		slog.String("account", account.Hex()),
		slog.Int("threshold", threshold),
		slog.String("module", "setup"),
	)

	return nil
}

// provisionEmails fetches wallets for every email entry that has none.
// Requests run concurrently; the caller waits for all of them.
func (s *GroupSetup) provisionEmails(ctx context.Context, entries []domain.IdentityEntry) ([]domain.IdentityEntry, error) {
	out := make([]domain.IdentityEntry, len(entries))
	copy(out, entries)

	g, gctx := errgroup.WithContext(ctx)
	for i, e := range out {
		if e.Kind != domain.KindEmail || e.CanonicalAddress != "" {
			continue
		}
		if s.deps.Wallets == nil {
			g.Go(func() error { return errNoWalletProvisioner })
			break
		}
		i, e := i, e
		g.Go(func() error {
			addr, err := s.deps.Wallets.ProvisionWallet(gctx, e.RawInput)
			if err != nil {
				return errors.Wrapf(err, "failed to provision wallet for %s", e.RawInput)
			}
			out[i].CanonicalAddress = addr.Hex()
			out[i].DisplayName = e.RawInput
			out[i].Resolving = false
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ownerSet puts the initiator first and drops repeated addresses.
func ownerSet(initiator common.Address, entries []domain.IdentityEntry) []common.Address {
	owners := []common.Address{initiator}
	seen := map[common.Address]bool{initiator: true}
	for _, e := range entries {
		if e.CanonicalAddress == "" {
			continue
		}
		addr := common.HexToAddress(e.CanonicalAddress)
		if seen[addr] {
			continue
		}
		seen[addr] = true
		owners = append(owners, addr)
	}
	return owners
}

// Continue is the manual step AccountVerified -> FundingAccount -> CreatingToken.
func (s *GroupSetup) Continue(ctx context.Context) error {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return domain.ErrOperationInFlight
	}
	var to domain.Stage
	switch s.state.Stage {
	case domain.StageAccountVerified:
		to = domain.StageFundingAccount
	case domain.StageFundingAccount:
		to = domain.StageCreatingToken
	default:
		s.mu.Unlock()
		return domain.TransitionError{From: s.state.Stage, To: domain.StageFundingAccount}
	}
	err := s.moveLocked(to)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.commit(ctx)
	return nil
}

// Fund sends amount wei from the initiator to the shared account and waits
// for it to land. Failures keep the setup in FundingAccount.
func (s *GroupSetup) Fund(ctx context.Context, amount *big.Int) (common.Hash, error) {
	ctx, span := tracer.Start(ctx, "Setup.Usecase.Fund")
	defer span.End()

	if amount == nil || amount.Sign() <= 0 {
		return common.Hash{}, domain.ValidationError{Message: "Please enter a valid amount"}
	}
	if s.deps.Funder == nil {
		return common.Hash{}, domain.ValidationError{Message: "funding is not configured"}
	}

	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return common.Hash{}, domain.ErrOperationInFlight
	}
	if s.state.Stage != domain.StageFundingAccount {
		s.mu.Unlock()
		return common.Hash{}, domain.TransitionError{From: s.state.Stage, To: domain.StageFundingAccount}
	}
	account := common.HexToAddress(s.state.SharedAccountAddress)
	s.inFlight = true
	s.mu.Unlock()
	defer s.done()

	balance, err := s.deps.Funder.Balance(ctx, s.deps.Initiator)
	if err != nil {
		span.RecordError(err)
		return common.Hash{}, domain.ValidationError{Message: "Unable to fetch wallet balance"}
	}
	if amount.Cmp(balance) > 0 {
		return common.Hash{}, domain.ValidationError{Message: "Insufficient balance"}
	}

	ctx = context.WithoutCancel(ctx)

	hash, err := s.deps.Funder.Transfer(ctx, account, amount)
	if err != nil {
		span.RecordError(err)
		s.noteError(ctx, err.Error())
		return common.Hash{}, err
	}

	receipt, err := s.waitReceipt(ctx, hash)
	if err == nil && receipt.Status != types.ReceiptStatusSuccessful {
		err = errors.New("funding transaction reverted")
	}
	if err != nil {
		span.RecordError(err)
		s.noteError(ctx, err.Error())
		return hash, err
	}

	s.mu.Lock()
	s.state.FundingTxHashes = append(s.state.FundingTxHashes, hash.Hex())
	funded, ok := new(big.Int).SetString(s.state.FundedWei, 10)
	if !ok {
		funded = new(big.Int)
	}
	s.state.FundedWei = funded.Add(funded, amount).String()
	s.state.LastError = ""
	s.state.UpdatedAt = time.Now()
	s.mu.Unlock()
	s.commit(ctx)

	return hash, nil
}

// NormalizeTokenInput trims both fields and upper-cases the symbol.
func NormalizeTokenInput(name, symbol string) (string, string, error) {
	name = strings.TrimSpace(name)
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if name == "" || symbol == "" {
		return "", "", domain.ValidationError{Message: "token name and symbol are required"}
	}
	if utf8.RuneCountInString(symbol) > domain.DefaultSymbolLength {
		return "", "", domain.ValidationError{Message: fmt.Sprintf("token symbol must be at most %d characters", domain.DefaultSymbolLength)}
	}
	return name, symbol, nil
}

// CreateToken submits the token deployment and moves to TokenPending
// without waiting for confirmation. The receipt is watched in the
// background; a new submission replaces any earlier watch.
func (s *GroupSetup) CreateToken(ctx context.Context, name, symbol string) (common.Hash, error) {
	ctx, span := tracer.Start(ctx, "Setup.Usecase.CreateToken")
	defer span.End()

	name, symbol, err := NormalizeTokenInput(name, symbol)
	if err != nil {
		return common.Hash{}, err
	}
	if s.deps.Factory == nil {
		return common.Hash{}, domain.ErrUnsupportedNetwork
	}

	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return common.Hash{}, domain.ErrOperationInFlight
	}
	if s.state.Stage != domain.StageCreatingToken {
		s.mu.Unlock()
		return common.Hash{}, domain.TransitionError{From: s.state.Stage, To: domain.StageTokenPending}
	}
	s.inFlight = true
	s.mu.Unlock()
	defer s.done()

	ctx = context.WithoutCancel(ctx)
	supply := TokenSupply()
	deployer := s.deps.Initiator

	salt, predicted, err := s.deps.Factory.GenerateSalt(ctx, deployer, name, symbol, supply)
	if err != nil {
		span.RecordError(errors.Wrap(err, "GroupSetup.CreateToken: GenerateSalt failed"))
		s.failAndCommit(ctx, fmt.Sprintf("failed to generate salt: %v", err))
		return common.Hash{}, err
	}

	hash, err := s.deps.Factory.DeployToken(ctx, name, symbol, supply, salt, deployer)
	if err != nil {
		span.RecordError(errors.Wrap(err, "GroupSetup.CreateToken: DeployToken failed"))
		s.failAndCommit(ctx, fmt.Sprintf("failed to deploy token: %v", err))
		return common.Hash{}, err
	}

	s.mu.Lock()
	s.state.TokenName = name
	s.state.TokenSymbol = symbol
	s.state.TokenTxHash = hash.Hex()
	s.state.TokenAddress = ""
	s.moveLocked(domain.StageTokenPending)
	watchCtx, gen := s.newWatchLocked(ctx)
	s.mu.Unlock()
	s.commit(ctx)

	slog.InfoContext(
		ctx, "token deployment submitted",
		slog.String("setup", s.ID()),
		slog.String("tx", hash.Hex()),
		slog.String("predicted", predicted.Hex()),
		slog.String("module", "setup"),
	)

	go s.observe(watchCtx, gen, hash)

	return hash, nil
}

// ObserveTokenReceipt waits for txHash and settles TokenPending. It
// replaces any watch already running.
func (s *GroupSetup) ObserveTokenReceipt(ctx context.Context, txHash common.Hash) error {
	s.mu.Lock()
	if s.state.Stage != domain.StageTokenPending {
		s.mu.Unlock()
		return domain.TransitionError{From: s.state.Stage, To: domain.StageTokenCreated}
	}
	watchCtx, gen := s.newWatchLocked(ctx)
	s.mu.Unlock()

	s.observe(watchCtx, gen, txHash)

	snap := s.Snapshot()
	if snap.Stage == domain.StageFailed {
		return errors.New(snap.LastError)
	}
	return nil
}

// Resume restarts the receipt watch of a setup loaded in TokenPending.
func (s *GroupSetup) Resume(ctx context.Context) {
	s.mu.Lock()
	if s.state.Stage != domain.StageTokenPending || s.state.TokenTxHash == "" {
		s.mu.Unlock()
		return
	}
	hash := common.HexToHash(s.state.TokenTxHash)
	watchCtx, gen := s.newWatchLocked(ctx)
	s.mu.Unlock()

	go s.observe(watchCtx, gen, hash)
}

func (s *GroupSetup) newWatchLocked(ctx context.Context) (context.Context, uint64) {
	if s.watchCancel != nil {
		s.watchCancel()
	}
	s.watchGen++
	watchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deps.WatchTimeout)
	s.watchCancel = cancel
	return watchCtx, s.watchGen
}

func (s *GroupSetup) observe(ctx context.Context, gen uint64, hash common.Hash) {
	ctx, span := tracer.Start(ctx, "Setup.Usecase.ObserveTokenReceipt", trace.WithAttributes(attribute.String("tx", hash.Hex())))
	defer span.End()

	receipt, err := s.waitReceipt(ctx, hash)

	s.mu.Lock()
	if gen != s.watchGen || s.state.Stage != domain.StageTokenPending {
		s.mu.Unlock()
		return
	}

	switch {
	case err != nil:
		span.RecordError(err)
		s.failLocked(fmt.Sprintf("failed waiting for token receipt: %v", err))
	case receipt.Status != types.ReceiptStatusSuccessful:
		s.failLocked("token deployment reverted")
	case len(receipt.Logs) == 0:
		s.failLocked(domain.MissingDeploymentEvent)
	default:
		s.state.TokenAddress = receipt.Logs[0].Address.Hex()
		s.moveLocked(domain.StageTokenCreated)
	}
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	s.mu.Unlock()

	// ctx belongs to the watch that was just cancelled
	s.commit(context.WithoutCancel(ctx))
}

func (s *GroupSetup) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if s.deps.Receipts == nil {
		return nil, errors.New("receipt watcher is not configured")
	}
	receipt, err := s.deps.Receipts.WaitForReceipt(ctx, hash)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, errors.New("empty receipt")
	}
	return receipt, nil
}

// Retry leaves Failed for the stage the failure happened in.
func (s *GroupSetup) Retry(ctx context.Context) error {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return domain.ErrOperationInFlight
	}
	err := s.state.Retry()
	if err == nil {
		metrics.RecordTransition(s.state.Stage.String())
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.commit(ctx)
	return nil
}

// Close stops the receipt watch, if any.
func (s *GroupSetup) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	s.watchGen++
}

func (s *GroupSetup) done() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

func (s *GroupSetup) moveLocked(to domain.Stage) error {
	if err := s.state.Transition(to); err != nil {
		return err
	}
	metrics.RecordTransition(to.String())
	return nil
}

func (s *GroupSetup) failLocked(msg string) {
	s.state.Fail(msg)
	metrics.RecordTransition(domain.StageFailed.String())
	slog.Error(
		"setup stage failed",
		slog.String("setup", s.state.ID),
		slog.String("retry", s.state.RetryStage.String()),
		slog.String("error", msg),
		slog.String("module", "setup"),
	)
}

func (s *GroupSetup) failAndCommit(ctx context.Context, msg string) {
	s.mu.Lock()
	s.failLocked(msg)
	s.mu.Unlock()
	s.commit(ctx)
}

func (s *GroupSetup) noteError(ctx context.Context, msg string) {
	s.mu.Lock()
	s.state.LastError = msg
	s.state.UpdatedAt = time.Now()
	s.mu.Unlock()
	s.commit(ctx)
}

// commit persists and publishes the current state. Storage and fan-out
// failures are logged and never change the setup.
func (s *GroupSetup) commit(ctx context.Context) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	snap := s.Snapshot()

	if s.deps.Repo != nil {
		if err := s.deps.Repo.Save(ctx, snap); err != nil {
			slog.ErrorContext(
				ctx, "failed to save setup",
				slog.String("setup", snap.ID),
				slog.String("error", err.Error()),
				slog.String("module", "setup"),
			)
		}
	}

	if s.deps.Notifier != nil {
		event := sharedbag.Event{
			SetupID:   snap.ID,
			Stage:     snap.Stage.String(),
			Payload:   snap,
			Timestamp: time.Now(),
		}
		if err := s.deps.Notifier.Publish(ctx, SetupChannel(snap.ID), event); err != nil {
			slog.ErrorContext(
				ctx, "failed to publish setup event",
				slog.String("setup", snap.ID),
				slog.String("error", err.Error()),
				slog.String("module", "setup"),
			)
		}
	}
}

// SetupChannel is the pub/sub channel carrying a setup's events.
func SetupChannel(id string) string {
	return "sharedbag:setup:" + id
}
