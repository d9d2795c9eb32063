package usecase

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/totegamma/sharedbag/internal/domain"
)

type session struct {
	setup     *GroupSetup
	resolvers map[string]*IdentityResolver

	applyMu sync.Mutex
	applied map[*IdentityResolver]uint64
}

func newSession(setup *GroupSetup) *session {
	return &session{
		setup:     setup,
		resolvers: map[string]*IdentityResolver{},
		applied:   map[*IdentityResolver]uint64{},
	}
}

var errStaleReport = errors.New("identity report superseded")

// SetupUsecase keeps the live setups of this process and the identity
// resolvers of their entries.
type SetupUsecase struct {
	deps   SetupDeps
	names  NameResolver
	window time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

func NewSetupUsecase(deps SetupDeps, names NameResolver, window time.Duration) *SetupUsecase {
	return &SetupUsecase{
		deps:     deps,
		names:    names,
		window:   window,
		sessions: map[string]*session{},
	}
}

// Create starts a setup with one empty entry.
func (uc *SetupUsecase) Create(ctx context.Context) (domain.GroupSetupState, error) {
	first := domain.IdentityEntry{ID: uuid.NewString(), Kind: domain.KindUnresolved}
	state := domain.NewGroupSetupState(uuid.NewString(), first)

	s := newSession(NewGroupSetup(state, uc.deps))

	uc.mu.Lock()
	uc.sessions[state.ID] = s
	uc.mu.Unlock()

	s.setup.commit(ctx)
	return s.setup.Snapshot(), nil
}

func (uc *SetupUsecase) session(ctx context.Context, id string) (*session, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if s, ok := uc.sessions[id]; ok {
		return s, nil
	}
	if uc.deps.Repo == nil {
		return nil, domain.NotFoundError{Resource: "setup"}
	}

	state, err := uc.deps.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	s := newSession(NewGroupSetup(state, uc.deps))
	uc.sessions[id] = s
	s.setup.Resume(ctx)

	return s, nil
}

// Get returns the orchestrator of a setup, loading it from storage when it
// is not live in this process.
func (uc *SetupUsecase) Get(ctx context.Context, id string) (*GroupSetup, error) {
	s, err := uc.session(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.setup, nil
}

func (uc *SetupUsecase) Snapshot(ctx context.Context, id string) (domain.GroupSetupState, error) {
	s, err := uc.session(ctx, id)
	if err != nil {
		return domain.GroupSetupState{}, err
	}
	return s.setup.Snapshot(), nil
}

func (uc *SetupUsecase) AddEntry(ctx context.Context, id string) (domain.IdentityEntry, error) {
	s, err := uc.session(ctx, id)
	if err != nil {
		return domain.IdentityEntry{}, err
	}
	return s.setup.AddEntry(ctx, uuid.NewString())
}

// SetEntryInput feeds text to the entry's resolver. The classification is
// stored right away as a pending entry; validity only comes from the
// resolver's debounced report.
func (uc *SetupUsecase) SetEntryInput(ctx context.Context, id, entryID, text string) (domain.IdentityEntry, error) {
	s, err := uc.session(ctx, id)
	if err != nil {
		return domain.IdentityEntry{}, err
	}

	snap := s.setup.Snapshot()
	if snap.Stage != domain.StageCollectingIdentities {
		return domain.IdentityEntry{}, domain.TransitionError{From: snap.Stage, To: domain.StageCollectingIdentities}
	}
	if snap.EntryIndex(entryID) < 0 {
		return domain.IdentityEntry{}, domain.NotFoundError{Resource: "entry"}
	}

	r := uc.resolver(s, id, entryID)
	seq, notice := r.SetInput(text)

	if err := uc.deliver(ctx, s, r, entryID, seq, notice); err != nil && !errors.Is(err, errStaleReport) {
		return domain.IdentityEntry{}, err
	}

	snap = s.setup.Snapshot()
	idx := snap.EntryIndex(entryID)
	if idx < 0 {
		return domain.IdentityEntry{}, domain.NotFoundError{Resource: "entry"}
	}
	return snap.Entries[idx], nil
}

// deliver applies a numbered resolver emission to the setup. Emissions of a
// resolver that was replaced or closed, and emissions older than the last
// applied one, are dropped.
func (uc *SetupUsecase) deliver(ctx context.Context, s *session, r *IdentityResolver, entryID string, seq uint64, res domain.Resolution) error {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	uc.mu.Lock()
	current := s.resolvers[entryID] == r
	uc.mu.Unlock()

	if !current || seq == 0 || seq <= s.applied[r] {
		return errStaleReport
	}
	if err := s.setup.UpdateEntry(ctx, entryID, res); err != nil {
		return err
	}
	s.applied[r] = seq
	return nil
}

func (uc *SetupUsecase) resolver(s *session, setupID, entryID string) *IdentityResolver {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if r, ok := s.resolvers[entryID]; ok {
		return r
	}

	r := NewIdentityResolver(entryID, uc.names, uc.deps.Wallets, uc.window)
	r.OnResolved(func(seq uint64, res domain.Resolution) {
		if err := uc.deliver(context.Background(), s, r, entryID, seq, res); err != nil {
			slog.Debug(
				"dropped identity report",
				slog.String("setup", setupID),
				slog.String("entry", entryID),
				slog.String("error", err.Error()),
				slog.String("module", "setup"),
			)
		}
	})
	s.resolvers[entryID] = r
	return r
}

func (uc *SetupUsecase) RemoveEntry(ctx context.Context, id, entryID string) error {
	s, err := uc.session(ctx, id)
	if err != nil {
		return err
	}
	if err := s.setup.RemoveEntry(ctx, entryID); err != nil {
		return err
	}

	uc.mu.Lock()
	r, ok := s.resolvers[entryID]
	if ok {
		r.Close()
		delete(s.resolvers, entryID)
	}
	uc.mu.Unlock()

	if ok {
		s.forget(r)
	}
	return nil
}

// Confirm deploys the shared account. The entry resolvers are torn down once
// the setup has left identity collection.
func (uc *SetupUsecase) Confirm(ctx context.Context, id string) (domain.GroupSetupState, error) {
	s, err := uc.session(ctx, id)
	if err != nil {
		return domain.GroupSetupState{}, err
	}

	err = s.setup.ConfirmIdentities(ctx)

	// a rejected confirm keeps collecting, and so do the resolvers
	snap := s.setup.Snapshot()
	if snap.Stage != domain.StageCollectingIdentities {
		uc.closeResolvers(s)
	}
	return snap, err
}

func (uc *SetupUsecase) Continue(ctx context.Context, id string) (domain.GroupSetupState, error) {
	s, err := uc.session(ctx, id)
	if err != nil {
		return domain.GroupSetupState{}, err
	}
	err = s.setup.Continue(ctx)
	return s.setup.Snapshot(), err
}

func (uc *SetupUsecase) Fund(ctx context.Context, id string, amount *big.Int) (common.Hash, error) {
	s, err := uc.session(ctx, id)
	if err != nil {
		return common.Hash{}, err
	}
	return s.setup.Fund(ctx, amount)
}

func (uc *SetupUsecase) CreateToken(ctx context.Context, id, name, symbol string) (common.Hash, error) {
	s, err := uc.session(ctx, id)
	if err != nil {
		return common.Hash{}, err
	}
	return s.setup.CreateToken(ctx, name, symbol)
}

func (uc *SetupUsecase) Retry(ctx context.Context, id string) (domain.GroupSetupState, error) {
	s, err := uc.session(ctx, id)
	if err != nil {
		return domain.GroupSetupState{}, err
	}
	err = s.setup.Retry(ctx)
	return s.setup.Snapshot(), err
}

func (uc *SetupUsecase) closeResolvers(s *session) {
	uc.mu.Lock()
	closed := make([]*IdentityResolver, 0, len(s.resolvers))
	for id, r := range s.resolvers {
		r.Close()
		delete(s.resolvers, id)
		closed = append(closed, r)
	}
	uc.mu.Unlock()

	s.forget(closed...)
}

func (s *session) forget(rs ...*IdentityResolver) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	for _, r := range rs {
		delete(s.applied, r)
	}
}

// Close stops every resolver and receipt watch of this process.
func (uc *SetupUsecase) Close() {
	uc.mu.Lock()
	sessions := make([]*session, 0, len(uc.sessions))
	for _, s := range uc.sessions {
		sessions = append(sessions, s)
	}
	uc.mu.Unlock()

	for _, s := range sessions {
		uc.closeResolvers(s)
		s.setup.Close()
	}
}
