package app

import (
	"context"
	"fmt"
	"time"

	switchvaultsvc "github.com/Vigil-Network/switch_ledger/internal/app/services/switchvault"
	tokensvc "github.com/Vigil-Network/switch_ledger/internal/app/services/token"
	"github.com/Vigil-Network/switch_ledger/internal/app/storage"
	"github.com/Vigil-Network/switch_ledger/internal/app/storage/memory"
	"github.com/Vigil-Network/switch_ledger/internal/app/system"
	"github.com/Vigil-Network/switch_ledger/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Vaults storage.VaultStore
	Events storage.EventStore
	Tokens storage.TokenStore
}

// Options tunes application construction.
type Options struct {
	// SweepInterval controls how often the expiry sweeper scans vaults.
	// Zero keeps the default.
	SweepInterval time.Duration
}

// Application ties the domain services together and manages their
// lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Vaults  *switchvaultsvc.Service
	Tokens  *tokensvc.Service
	Sweeper *switchvaultsvc.ExpirySweeper
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Vaults == nil {
		stores.Vaults = mem
	}
	if stores.Events == nil {
		stores.Events = mem
	}
	if stores.Tokens == nil {
		stores.Tokens = mem
	}

	manager := system.NewManager()

	tokenService := tokensvc.New(stores.Tokens, log)
	vaultService := switchvaultsvc.New(stores.Vaults, stores.Events, tokenService, log)
	sweeper := switchvaultsvc.NewExpirySweeper(stores.Vaults, opts.SweepInterval, log)

	if err := manager.Register(sweeper); err != nil {
		return nil, fmt.Errorf("register %s: %w", sweeper.Name(), err)
	}

	return &Application{
		manager: manager,
		log:     log,
		Vaults:  vaultService,
		Tokens:  tokenService,
		Sweeper: sweeper,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before
// Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
