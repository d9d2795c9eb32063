package usecase

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/sharedbag"
	"github.com/totegamma/sharedbag/internal/domain"
)

var (
	initiatorAddr = common.HexToAddress("0x000000000000000000000000000000000000beef")
	safeAddr      = common.HexToAddress("0x0000000000000000000000000000000000005afe")
	tokenAddr     = common.HexToAddress("0x0000000000000000000000000000000000007043")
	tokenTx       = common.HexToHash("0x01")
	fundTx        = common.HexToHash("0x02")
)

type mockDeployer struct {
	mu        sync.Mutex
	owners    []common.Address
	threshold int
	calls     int
	addr      common.Address
	err       error
}

func (m *mockDeployer) DeployAccount(ctx context.Context, owners []common.Address, threshold int, salt *big.Int) (common.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.owners = owners
	m.threshold = threshold
	if m.err != nil {
		return common.Address{}, m.err
	}
	return m.addr, nil
}

type mockFactory struct {
	mu        sync.Mutex
	saltErr   error
	deployErr error
	hash      common.Hash
	name      string
	symbol    string
	supply    *big.Int
	deploys   int
}

func (m *mockFactory) GenerateSalt(ctx context.Context, deployer common.Address, name, symbol string, supply *big.Int) ([32]byte, common.Address, error) {
	if m.saltErr != nil {
		return [32]byte{}, common.Address{}, m.saltErr
	}
	return [32]byte{1}, tokenAddr, nil
}

func (m *mockFactory) DeployToken(ctx context.Context, name, symbol string, supply *big.Int, salt [32]byte, deployer common.Address) (common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deploys++
	m.name = name
	m.symbol = symbol
	m.supply = supply
	if m.deployErr != nil {
		return common.Hash{}, m.deployErr
	}
	return m.hash, nil
}

type mockReceipts struct {
	mu       sync.Mutex
	receipts map[common.Hash]*types.Receipt
	gate     chan struct{}
	err      error
}

func (m *mockReceipts) WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	m.mu.Lock()
	gate := m.gate
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	r, ok := m.receipts[hash]
	if !ok {
		return nil, errors.New("unknown transaction")
	}
	return r, nil
}

type mockFunder struct {
	balance *big.Int
	sent    []*big.Int
}

func (m *mockFunder) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return m.balance, nil
}

func (m *mockFunder) Transfer(ctx context.Context, to common.Address, amount *big.Int) (common.Hash, error) {
	m.sent = append(m.sent, amount)
	return fundTx, nil
}

type mockRepo struct {
	mu     sync.Mutex
	states map[string]domain.GroupSetupState
	saves  int
}

func newMockRepo() *mockRepo {
	return &mockRepo{states: map[string]domain.GroupSetupState{}}
}

func (m *mockRepo) Save(ctx context.Context, state domain.GroupSetupState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.states[state.ID] = state
	return nil
}

func (m *mockRepo) Get(ctx context.Context, id string) (domain.GroupSetupState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[id]
	if !ok {
		return domain.GroupSetupState{}, domain.NotFoundError{Resource: "setup"}
	}
	return s, nil
}

type mockNotifier struct {
	mu     sync.Mutex
	events []sharedbag.Event
}

func (m *mockNotifier) Publish(ctx context.Context, channel string, event sharedbag.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockNotifier) stages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Stage
	}
	return out
}

func successReceipt(logs ...*types.Log) *types.Receipt {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, Logs: logs}
}

type fixture struct {
	deployer *mockDeployer
	factory  *mockFactory
	receipts *mockReceipts
	funder   *mockFunder
	wallets  *mockWallets
	repo     *mockRepo
	notifier *mockNotifier
}

func newFixture() *fixture {
	return &fixture{
		deployer: &mockDeployer{addr: safeAddr},
		factory:  &mockFactory{hash: tokenTx},
		receipts: &mockReceipts{receipts: map[common.Hash]*types.Receipt{
			tokenTx: successReceipt(&types.Log{Address: tokenAddr}),
			fundTx:  successReceipt(),
		}},
		funder:   &mockFunder{balance: big.NewInt(1_000_000)},
		wallets:  &mockWallets{addrs: map[string]common.Address{}},
		repo:     newMockRepo(),
		notifier: &mockNotifier{},
	}
}

func (f *fixture) setup(entries ...domain.IdentityEntry) *GroupSetup {
	state := domain.NewGroupSetupState("setup-1", entries[0])
	state.Entries = append(state.Entries, entries[1:]...)
	deps := SetupDeps{
		Initiator:    initiatorAddr,
		Deployer:     f.deployer,
		Receipts:     f.receipts,
		Funder:       f.funder,
		Wallets:      f.wallets,
		Repo:         f.repo,
		Notifier:     f.notifier,
		WatchTimeout: time.Second,
	}
	if f.factory != nil {
		deps.Factory = f.factory
	}
	return NewGroupSetup(state, deps)
}

func addressEntry(id string, addr common.Address) domain.IdentityEntry {
	return domain.IdentityEntry{ID: id, RawInput: addr.Hex(), Kind: domain.KindAddress, CanonicalAddress: addr.Hex()}
}

func stageIs(s *GroupSetup, stage domain.Stage) func() bool {
	return func() bool { return s.Snapshot().Stage == stage }
}

// walkToCreatingToken confirms identities and continues twice.
func walkToCreatingToken(t *testing.T, s *GroupSetup) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.ConfirmIdentities(ctx))
	require.NoError(t, s.Continue(ctx))
	require.NoError(t, s.Continue(ctx))
	require.Equal(t, domain.StageCreatingToken, s.Snapshot().Stage)
}

func TestSetupHappyPath(t *testing.T) {
	f := newFixture()
	s := f.setup(addressEntry("e1", aliceAddr), addressEntry("e2", bobAddr))
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.ConfirmIdentities(ctx))
	snap := s.Snapshot()
	assert.Equal(t, domain.StageAccountVerified, snap.Stage)
	assert.Equal(t, safeAddr.Hex(), snap.SharedAccountAddress)
	assert.Equal(t, []common.Address{initiatorAddr, aliceAddr, bobAddr}, f.deployer.owners)
	assert.Equal(t, 2, f.deployer.threshold)
	assert.Equal(t, 2, snap.Threshold)

	require.NoError(t, s.Continue(ctx))
	assert.Equal(t, domain.StageFundingAccount, s.Snapshot().Stage)
	require.NoError(t, s.Continue(ctx))
	assert.Equal(t, domain.StageCreatingToken, s.Snapshot().Stage)

	hash, err := s.CreateToken(ctx, " Group Bag ", "bag")
	require.NoError(t, err)
	assert.Equal(t, tokenTx, hash)
	assert.Equal(t, "BAG", f.factory.symbol)
	assert.Equal(t, "Group Bag", f.factory.name)
	assert.Equal(t, 0, f.factory.supply.Cmp(TokenSupply()))

	require.Eventually(t, stageIs(s, domain.StageTokenCreated), time.Second, 5*time.Millisecond)
	snap = s.Snapshot()
	assert.Equal(t, tokenAddr.Hex(), snap.TokenAddress)
	assert.Equal(t, tokenTx.Hex(), snap.TokenTxHash)
	assert.Empty(t, snap.LastError)

	require.Eventually(t, func() bool {
		stages := f.notifier.stages()
		return len(stages) > 0 && stages[len(stages)-1] == domain.StageTokenCreated.String()
	}, time.Second, 5*time.Millisecond)
	saved, err := f.repo.Get(ctx, "setup-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StageTokenCreated, saved.Stage)
}

func TestSetupThresholdSingleInvitee(t *testing.T) {
	f := newFixture()
	s := f.setup(addressEntry("e1", aliceAddr))

	require.NoError(t, s.ConfirmIdentities(context.Background()))
	assert.Equal(t, 1, f.deployer.threshold)
	assert.Len(t, f.deployer.owners, 2)
}

func TestSetupOwnersAreDeduplicated(t *testing.T) {
	f := newFixture()
	lower := domain.IdentityEntry{ID: "e2", RawInput: "x", Kind: domain.KindAddress, CanonicalAddress: "0x00000000000000000000000000000000000a11ce"}
	s := f.setup(addressEntry("e1", aliceAddr), lower, addressEntry("e3", initiatorAddr))

	require.NoError(t, s.ConfirmIdentities(context.Background()))
	assert.Equal(t, []common.Address{initiatorAddr, aliceAddr}, f.deployer.owners)
}

func TestSetupConfirmRequiresValidEntry(t *testing.T) {
	f := newFixture()
	s := f.setup(domain.IdentityEntry{ID: "e1", RawInput: "nope", Kind: domain.KindInvalid})

	err := s.ConfirmIdentities(context.Background())
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, domain.StageCollectingIdentities, s.Snapshot().Stage)
	assert.Equal(t, 0, f.deployer.calls)
}

func TestSetupConfirmDropsInvalidEntries(t *testing.T) {
	f := newFixture()
	s := f.setup(
		addressEntry("e1", aliceAddr),
		domain.IdentityEntry{ID: "e2", RawInput: "nope", Kind: domain.KindInvalid},
		domain.IdentityEntry{ID: "e3", RawInput: "ghost.eth", Kind: domain.KindENSName},
	)

	require.NoError(t, s.ConfirmIdentities(context.Background()))
	assert.Equal(t, []common.Address{initiatorAddr, aliceAddr}, f.deployer.owners)
}

func TestSetupProvisionsEmailsBeforeDeploy(t *testing.T) {
	f := newFixture()
	f.wallets.addrs["a@b.co"] = carolAddr
	f.wallets.addrs["c@d.co"] = bobAddr
	s := f.setup(
		domain.IdentityEntry{ID: "e1", RawInput: "a@b.co", Kind: domain.KindEmail},
		domain.IdentityEntry{ID: "e2", RawInput: "c@d.co", Kind: domain.KindEmail},
	)

	require.NoError(t, s.ConfirmIdentities(context.Background()))

	assert.ElementsMatch(t, []string{"a@b.co", "c@d.co"}, f.wallets.calls)
	assert.Equal(t, []common.Address{initiatorAddr, carolAddr, bobAddr}, f.deployer.owners)
	snap := s.Snapshot()
	assert.Equal(t, carolAddr.Hex(), snap.Entries[0].CanonicalAddress)
	assert.True(t, snap.Entries[0].IsValid())
}

func TestSetupEmailProvisioningFailureFails(t *testing.T) {
	f := newFixture()
	f.wallets.err = errors.New("provider down")
	s := f.setup(domain.IdentityEntry{ID: "e1", RawInput: "a@b.co", Kind: domain.KindEmail})

	require.Error(t, s.ConfirmIdentities(context.Background()))
	snap := s.Snapshot()
	assert.Equal(t, domain.StageFailed, snap.Stage)
	assert.Equal(t, domain.StageCollectingIdentities, snap.RetryStage)
	assert.Contains(t, snap.LastError, "provider down")
	assert.Equal(t, 0, f.deployer.calls)
}

func TestSetupDeploymentFailureAndRetry(t *testing.T) {
	f := newFixture()
	f.deployer.err = errors.New("execution reverted")
	s := f.setup(addressEntry("e1", aliceAddr))
	ctx := context.Background()

	require.Error(t, s.ConfirmIdentities(ctx))
	snap := s.Snapshot()
	assert.Equal(t, domain.StageFailed, snap.Stage)
	assert.Contains(t, snap.LastError, "execution reverted")
	assert.Empty(t, snap.SharedAccountAddress)

	require.NoError(t, s.Retry(ctx))
	assert.Equal(t, domain.StageCollectingIdentities, s.Snapshot().Stage)
	assert.Empty(t, s.Snapshot().LastError)

	f.deployer.err = nil
	require.NoError(t, s.ConfirmIdentities(ctx))
	assert.Equal(t, domain.StageAccountVerified, s.Snapshot().Stage)
}

func TestSetupMissingDeploymentEvent(t *testing.T) {
	f := newFixture()
	f.receipts.receipts[tokenTx] = successReceipt()
	s := f.setup(addressEntry("e1", aliceAddr))
	defer s.Close()
	walkToCreatingToken(t, s)
	account := s.Snapshot().SharedAccountAddress

	_, err := s.CreateToken(context.Background(), "Bag", "BAG")
	require.NoError(t, err)

	require.Eventually(t, stageIs(s, domain.StageFailed), time.Second, 5*time.Millisecond)
	snap := s.Snapshot()
	assert.Equal(t, domain.MissingDeploymentEvent, snap.LastError)
	assert.Equal(t, domain.StageCreatingToken, snap.RetryStage)
	assert.Empty(t, snap.TokenAddress)

	require.NoError(t, s.Retry(context.Background()))
	snap = s.Snapshot()
	assert.Equal(t, domain.StageCreatingToken, snap.Stage)
	assert.Equal(t, account, snap.SharedAccountAddress)
}

func TestSetupReceiptOutcomeIsPersisted(t *testing.T) {
	f := newFixture()
	f.receipts.receipts[tokenTx] = successReceipt()
	s := f.setup(addressEntry("e1", aliceAddr))
	defer s.Close()
	walkToCreatingToken(t, s)

	_, err := s.CreateToken(context.Background(), "Bag", "BAG")
	require.NoError(t, err)

	// the watch context is gone by the time the outcome is stored
	require.Eventually(t, func() bool {
		saved, err := f.repo.Get(context.Background(), "setup-1")
		return err == nil && saved.Stage == domain.StageFailed
	}, time.Second, 5*time.Millisecond)
	saved, err := f.repo.Get(context.Background(), "setup-1")
	require.NoError(t, err)
	assert.Equal(t, domain.MissingDeploymentEvent, saved.LastError)

	require.Eventually(t, func() bool {
		stages := f.notifier.stages()
		return len(stages) > 0 && stages[len(stages)-1] == domain.StageFailed.String()
	}, time.Second, 5*time.Millisecond)
}

func TestSetupRevertedTokenFails(t *testing.T) {
	f := newFixture()
	f.receipts.receipts[tokenTx] = &types.Receipt{Status: types.ReceiptStatusFailed}
	s := f.setup(addressEntry("e1", aliceAddr))
	defer s.Close()
	walkToCreatingToken(t, s)

	_, err := s.CreateToken(context.Background(), "Bag", "BAG")
	require.NoError(t, err)

	require.Eventually(t, stageIs(s, domain.StageFailed), time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.StageCreatingToken, s.Snapshot().RetryStage)
}

func TestSetupTokenPendingIsImmediate(t *testing.T) {
	f := newFixture()
	f.receipts.gate = make(chan struct{})
	s := f.setup(addressEntry("e1", aliceAddr))
	defer s.Close()
	walkToCreatingToken(t, s)

	_, err := s.CreateToken(context.Background(), "Bag", "BAG")
	require.NoError(t, err)
	assert.Equal(t, domain.StageTokenPending, s.Snapshot().Stage)

	close(f.receipts.gate)
	require.Eventually(t, stageIs(s, domain.StageTokenCreated), time.Second, 5*time.Millisecond)
}

func TestSetupUnsupportedNetwork(t *testing.T) {
	f := newFixture()
	f.factory = nil
	s := f.setup(addressEntry("e1", aliceAddr))
	walkToCreatingToken(t, s)

	_, err := s.CreateToken(context.Background(), "Bag", "BAG")
	assert.ErrorIs(t, err, domain.ErrUnsupportedNetwork)
	assert.Equal(t, domain.StageCreatingToken, s.Snapshot().Stage)
}

func TestSetupTokenInputValidation(t *testing.T) {
	f := newFixture()
	s := f.setup(addressEntry("e1", aliceAddr))
	walkToCreatingToken(t, s)
	ctx := context.Background()

	_, err := s.CreateToken(ctx, "", "BAG")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = s.CreateToken(ctx, "Bag", "TOOLONG")
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 0, f.factory.deploys)
	assert.Equal(t, domain.StageCreatingToken, s.Snapshot().Stage)
}

func TestSetupTokenSubmitFailure(t *testing.T) {
	f := newFixture()
	f.factory.deployErr = errors.New("insufficient funds")
	s := f.setup(addressEntry("e1", aliceAddr))
	walkToCreatingToken(t, s)

	_, err := s.CreateToken(context.Background(), "Bag", "BAG")
	require.Error(t, err)
	snap := s.Snapshot()
	assert.Equal(t, domain.StageFailed, snap.Stage)
	assert.Equal(t, domain.StageCreatingToken, snap.RetryStage)
}

func TestSetupSharedAccountIsSetOnce(t *testing.T) {
	f := newFixture()
	f.receipts.receipts[tokenTx] = successReceipt()
	s := f.setup(addressEntry("e1", aliceAddr))
	defer s.Close()
	walkToCreatingToken(t, s)

	_, err := s.CreateToken(context.Background(), "Bag", "BAG")
	require.NoError(t, err)
	require.Eventually(t, stageIs(s, domain.StageFailed), time.Second, 5*time.Millisecond)
	require.NoError(t, s.Retry(context.Background()))

	// confirmation is not reachable again once the account exists
	err = s.ConfirmIdentities(context.Background())
	assert.ErrorIs(t, err, domain.ErrTransition)
	assert.Equal(t, 1, f.deployer.calls)
	assert.Equal(t, safeAddr.Hex(), s.Snapshot().SharedAccountAddress)
}

func TestSetupOperationInFlight(t *testing.T) {
	f := newFixture()
	f.receipts.gate = make(chan struct{})
	s := f.setup(addressEntry("e1", aliceAddr))
	defer s.Close()
	walkToCreatingToken(t, s)
	ctx := context.Background()

	// another stage operation holds the flag
	s.mu.Lock()
	s.inFlight = true
	s.mu.Unlock()

	_, err := s.CreateToken(ctx, "Bag", "BAG")
	assert.ErrorIs(t, err, domain.ErrOperationInFlight)
	assert.ErrorIs(t, s.Retry(ctx), domain.ErrOperationInFlight)
	assert.Equal(t, 0, f.factory.deploys)

	s.done()
	_, err = s.CreateToken(ctx, "Bag", "BAG")
	assert.NoError(t, err)
	close(f.receipts.gate)
}

func TestSetupNewWatchInvalidatesOld(t *testing.T) {
	f := newFixture()
	f.receipts.gate = make(chan struct{})
	s := f.setup(addressEntry("e1", aliceAddr))
	defer s.Close()
	walkToCreatingToken(t, s)
	ctx := context.Background()

	_, err := s.CreateToken(ctx, "Bag", "BAG")
	require.NoError(t, err)

	s.mu.Lock()
	firstGen := s.watchGen
	s.mu.Unlock()

	s.Resume(ctx)
	s.mu.Lock()
	assert.Equal(t, firstGen+1, s.watchGen)
	s.mu.Unlock()

	close(f.receipts.gate)
	require.Eventually(t, stageIs(s, domain.StageTokenCreated), time.Second, 5*time.Millisecond)
}

func TestSetupObserveTokenReceipt(t *testing.T) {
	f := newFixture()
	state := domain.NewGroupSetupState("setup-2", addressEntry("e1", aliceAddr))
	state.Stage = domain.StageTokenPending
	state.TokenTxHash = tokenTx.Hex()
	s := NewGroupSetup(state, SetupDeps{Receipts: f.receipts, WatchTimeout: time.Second})

	require.NoError(t, s.ObserveTokenReceipt(context.Background(), tokenTx))
	assert.Equal(t, domain.StageTokenCreated, s.Snapshot().Stage)
	assert.Equal(t, tokenAddr.Hex(), s.Snapshot().TokenAddress)

	err := s.ObserveTokenReceipt(context.Background(), tokenTx)
	assert.ErrorIs(t, err, domain.ErrTransition)
}

func TestSetupFund(t *testing.T) {
	f := newFixture()
	s := f.setup(addressEntry("e1", aliceAddr))
	ctx := context.Background()
	require.NoError(t, s.ConfirmIdentities(ctx))
	require.NoError(t, s.Continue(ctx))

	_, err := s.Fund(ctx, big.NewInt(0))
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = s.Fund(ctx, big.NewInt(2_000_000))
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, f.funder.sent)

	hash, err := s.Fund(ctx, big.NewInt(400))
	require.NoError(t, err)
	assert.Equal(t, fundTx, hash)
	_, err = s.Fund(ctx, big.NewInt(100))
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.Equal(t, domain.StageFundingAccount, snap.Stage)
	assert.Equal(t, "500", snap.FundedWei)
	assert.Len(t, snap.FundingTxHashes, 2)
}

func TestSetupFundRevertKeepsStage(t *testing.T) {
	f := newFixture()
	f.receipts.receipts[fundTx] = &types.Receipt{Status: types.ReceiptStatusFailed}
	s := f.setup(addressEntry("e1", aliceAddr))
	ctx := context.Background()
	require.NoError(t, s.ConfirmIdentities(ctx))
	require.NoError(t, s.Continue(ctx))

	_, err := s.Fund(ctx, big.NewInt(10))
	require.Error(t, err)
	snap := s.Snapshot()
	assert.Equal(t, domain.StageFundingAccount, snap.Stage)
	assert.NotEmpty(t, snap.LastError)
	assert.Empty(t, snap.FundingTxHashes)
}

func TestSetupEntryManagement(t *testing.T) {
	f := newFixture()
	s := f.setup(domain.IdentityEntry{ID: "e1"})
	ctx := context.Background()

	assert.ErrorIs(t, s.RemoveEntry(ctx, "e1"), domain.ErrLastEntry)

	_, err := s.AddEntry(ctx, "e2")
	require.NoError(t, err)
	assert.Len(t, s.Snapshot().Entries, 2)

	require.NoError(t, s.UpdateEntry(ctx, "e2", domain.Resolution{
		RawInput: aliceAddr.Hex(), Kind: domain.KindAddress, IsValid: true, CanonicalAddress: aliceAddr.Hex(),
	}))
	assert.True(t, s.Snapshot().Entries[1].IsValid())

	require.NoError(t, s.RemoveEntry(ctx, "e1"))
	assert.Equal(t, "e2", s.Snapshot().Entries[0].ID)
	assert.ErrorIs(t, s.RemoveEntry(ctx, "missing"), domain.ErrNotFound)

	require.NoError(t, s.ConfirmIdentities(ctx))
	_, err = s.AddEntry(ctx, "e3")
	assert.ErrorIs(t, err, domain.ErrTransition)
}
