package switchvault

import (
	"context"
	"sync"
	"time"

	"github.com/Vigil-Network/switch_ledger/internal/app/metrics"
	"github.com/Vigil-Network/switch_ledger/internal/app/storage"
	"github.com/Vigil-Network/switch_ledger/internal/app/system"
	"github.com/Vigil-Network/switch_ledger/pkg/logger"
)

// ExpirySweeper periodically scans vaults and tracks which ones have passed
// their check-in window. It never mutates vault state; expiry is always
// re-derived at claim time. The sweeper only feeds the expired-vault gauge
// and logs grace-period transitions so operators can alert on them.
type ExpirySweeper struct {
	store    storage.VaultStore
	interval time.Duration
	log      *logger.Logger
	now      func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	expired map[string]bool
}

var _ system.Service = (*ExpirySweeper)(nil)

// NewExpirySweeper builds a sweeper scanning at the given interval.
func NewExpirySweeper(store storage.VaultStore, interval time.Duration, log *logger.Logger) *ExpirySweeper {
	if log == nil {
		log = logger.NewDefault("switchvault-sweeper")
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ExpirySweeper{
		store:    store,
		interval: interval,
		log:      log,
		now:      time.Now,
		expired:  make(map[string]bool),
	}
}

// WithClock overrides the time source. Used by tests.
func (p *ExpirySweeper) WithClock(now func() time.Time) {
	p.now = now
}

func (p *ExpirySweeper) Name() string { return "switchvault-sweeper" }

func (p *ExpirySweeper) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.Sweep(runCtx)
			}
		}
	}()

	p.log.Info("expiry sweeper started")
	return nil
}

func (p *ExpirySweeper) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

// Sweep runs one scan. Exposed for tests and manual triggering.
func (p *ExpirySweeper) Sweep(ctx context.Context) {
	vaults, err := p.store.ListVaults(ctx)
	if err != nil {
		p.log.WithError(err).Warn("list vaults failed")
		return
	}

	now := p.now().UTC()
	count := 0

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, v := range vaults {
		// Only funded vaults with a recorded check-in are worth tracking;
		// an untouched record is trivially past its zero timestamps.
		active := v.Balance > 0 && !v.LastCheckIn.IsZero()
		isExpired := active && v.Expired(now)
		if isExpired {
			count++
		}

		was := p.expired[v.ID]
		switch {
		case isExpired && !was:
			p.log.WithField("vault_id", v.ID).
				WithField("balance", v.Balance).
				WithField("expired_at", v.ExpiresAt().UTC().Format(time.RFC3339)).
				Warn("vault passed its check-in window")
		case !isExpired && was:
			p.log.WithField("vault_id", v.ID).Info("vault back within grace period")
		}
		p.expired[v.ID] = isExpired
	}

	metrics.SetExpiredVaults(count)
}

// ExpiredCount reports how many vaults the last sweep saw as expired.
func (p *ExpirySweeper) ExpiredCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, expired := range p.expired {
		if expired {
			count++
		}
	}
	return count
}
