package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/sharedbag/internal/domain"
	"github.com/totegamma/sharedbag/internal/metrics"
	"github.com/totegamma/sharedbag/internal/utils"
)

var resolverTracer = otel.Tracer("resolver")

const resolveTimeout = 15 * time.Second

var (
	errNoNameResolver      = errors.New("ens resolution is not configured")
	errNoWalletProvisioner = errors.New("embedded wallets are not configured")
)

// IdentityResolver turns one line of free text into an identity. Input is
// classified synchronously, resolution runs in the background, and the
// result is reported to the owner after the debounce window. Only the most
// recent input's result is ever applied.
type IdentityResolver struct {
	names    NameResolver
	wallets  WalletProvisioner
	debounce *utils.Debouncer

	mu         sync.Mutex
	entry      domain.IdentityEntry
	gen        uint64
	seq        uint64
	cancel     context.CancelFunc
	closed     bool
	onResolved func(seq uint64, res domain.Resolution)
}

func NewIdentityResolver(entryID string, names NameResolver, wallets WalletProvisioner, window time.Duration) *IdentityResolver {
	return &IdentityResolver{
		names:    names,
		wallets:  wallets,
		debounce: utils.NewDebouncer(window),
		entry:    domain.IdentityEntry{ID: entryID, Kind: domain.KindUnresolved},
	}
}

// OnResolved registers the callback receiving debounced reports. Every
// report carries a sequence number that grows with each emission; a
// receiver must ignore a report older than one it already applied.
func (r *IdentityResolver) OnResolved(fn func(seq uint64, res domain.Resolution)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onResolved = fn
}

func (r *IdentityResolver) Entry() domain.IdentityEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entry
}

// SetInput replaces the raw input. It never blocks on the network. The
// returned notice carries the classification only; validity follows in the
// debounced report, which is numbered after the notice.
func (r *IdentityResolver) SetInput(text string) (uint64, domain.Resolution) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, domain.Resolution{}
	}

	r.gen++
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}

	kind := domain.Classify(text)
	r.entry = domain.IdentityEntry{
		ID:       r.entry.ID,
		RawInput: text,
		Kind:     kind,
	}

	switch kind {
	case domain.KindAddress:
		r.entry.CanonicalAddress = text
		r.start(kind, text)
	case domain.KindENSName, domain.KindEmail:
		r.entry.Resolving = true
		r.start(kind, text)
	}

	r.seq++
	notice := domain.Resolution{
		RawInput: text,
		Kind:     kind,
		Pending:  kind == domain.KindAddress || kind == domain.KindENSName || kind == domain.KindEmail,
	}

	r.scheduleReportLocked()
	return r.seq, notice
}

// Close cancels the pending report and drops any in-flight result.
func (r *IdentityResolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.debounce.Stop()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

func (r *IdentityResolver) start(kind domain.Kind, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	r.cancel = cancel
	gen := r.gen
	go func() {
		defer cancel()
		r.resolve(ctx, gen, kind, text)
	}()
}

func (r *IdentityResolver) resolve(ctx context.Context, gen uint64, kind domain.Kind, text string) {
	ctx, span := resolverTracer.Start(ctx, "Resolver.Usecase.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("kind", kind.String()))

	switch kind {
	case domain.KindAddress:
		// reverse lookup is best-effort and never affects validity
		if r.names == nil {
			return
		}
		name, err := r.names.ResolveName(ctx, common.HexToAddress(text))
		if err != nil || name == "" {
			return
		}
		r.apply(gen, kind, nil, func(e *domain.IdentityEntry) {
			e.DisplayName = name
		})

	case domain.KindENSName:
		var addr common.Address
		err := errNoNameResolver
		if r.names != nil {
			addr, err = r.names.ResolveAddress(ctx, text)
		}
		if err == nil && addr == (common.Address{}) {
			err = domain.NotFoundError{Resource: "ens name"}
		}
		r.apply(gen, kind, err, func(e *domain.IdentityEntry) {
			e.Resolving = false
			if err != nil {
				e.CanonicalAddress = ""
				return
			}
			e.CanonicalAddress = addr.Hex()
			e.DisplayName = text
		})

	case domain.KindEmail:
		var addr common.Address
		err := errNoWalletProvisioner
		if r.wallets != nil {
			addr, err = r.wallets.ProvisionWallet(ctx, text)
		}
		r.apply(gen, kind, err, func(e *domain.IdentityEntry) {
			e.Resolving = false
			if err != nil {
				e.CanonicalAddress = ""
				return
			}
			e.CanonicalAddress = addr.Hex()
			e.DisplayName = text
		})
	}
}

func (r *IdentityResolver) apply(gen uint64, kind domain.Kind, err error, fn func(*domain.IdentityEntry)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || gen != r.gen {
		metrics.RecordResolution(kind.String(), "stale")
		return
	}

	if err != nil {
		metrics.RecordResolution(kind.String(), "failed")
		slog.Debug(
			"identity resolution failed",
			slog.String("input", r.entry.RawInput),
			slog.String("error", err.Error()),
			slog.String("module", "resolver"),
		)
	} else {
		metrics.RecordResolution(kind.String(), "ok")
	}

	fn(&r.entry)
	r.scheduleReportLocked()
}

func (r *IdentityResolver) scheduleReportLocked() {
	r.debounce.Schedule(func() {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return
		}
		r.seq++
		seq := r.seq
		report := r.entry.Resolution()
		fn := r.onResolved
		r.mu.Unlock()

		if fn != nil {
			fn(seq, report)
		}
	})
}
