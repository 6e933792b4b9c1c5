// Package app wires the service from configuration. The HTTP server and the
// expiry sweep share it so both see the same stores and approval engine.
package app

import (
	"context"
	"fmt"

	"github.com/pesio-ai/be-contracts-access/internal/approval"
	"github.com/pesio-ai/be-contracts-access/internal/config"
	"github.com/pesio-ai/be-contracts-access/internal/database"
	"github.com/pesio-ai/be-contracts-access/internal/logger"
	"github.com/pesio-ai/be-contracts-access/internal/notify"
	"github.com/pesio-ai/be-contracts-access/internal/policy"
	"github.com/pesio-ai/be-contracts-access/internal/rbac"
	"github.com/pesio-ai/be-contracts-access/internal/repository"
	"github.com/pesio-ai/be-contracts-access/internal/repository/memory"
	"github.com/pesio-ai/be-contracts-access/internal/service"
	"github.com/pesio-ai/be-contracts-access/internal/terms"
)

// App holds the wired components.
type App struct {
	Stores    repository.Stores
	Access    *rbac.Resolver
	Approvals *approval.Engine
	Contracts *service.ContractService
	Terms     *terms.Service
	Policy    *policy.Authorizer
	// Ping checks the store; it is nil for the memory store.
	Ping func(ctx context.Context) error

	closers []func()
}

// New connects to the configured store and message bus and builds the
// access and approval services on top of them.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{}

	switch cfg.Database.Driver {
	case "memory":
		log.Warn().Msg("using in-memory store; data is lost on exit")
		a.Stores = memory.NewStore().Stores()
	default:
		db, err := database.New(ctx, database.Config{
			URL:         cfg.Database.URL,
			MaxConns:    cfg.Database.MaxConns,
			MinConns:    cfg.Database.MinConns,
			MaxConnTime: cfg.Database.MaxConnTime,
			MaxIdleTime: cfg.Database.MaxIdleTime,
			HealthCheck: cfg.Database.HealthCheck,
		})
		if err != nil {
			return nil, fmt.Errorf("app: connect database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		log.Info().Msg("Database connection established")

		if cfg.Database.Migrate {
			applied, err := db.Migrate(ctx)
			if err != nil {
				a.Close()
				return nil, fmt.Errorf("app: migrate: %w", err)
			}
			log.Info().Strs("applied", applied).Msg("migrations applied")
		}
		a.Stores = repository.NewPostgresStores(db)
		a.Ping = db.Ping
	}

	var publisher *notify.Publisher
	if cfg.NATS.URL != "" {
		js, err := notify.ConnectJetStream(ctx, cfg.NATS.URL, cfg.NATS.Stream, cfg.Service.Name)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() {
			if err := js.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to drain NATS connection")
			}
		})
		publisher = notify.NewPublisher(js, log.Component("notify").Logger)
		log.Info().Str("stream", cfg.NATS.Stream).Msg("NATS JetStream connected")
	} else {
		log.Info().Msg("NATS_URL not set; approval notifications are disabled")
	}

	mode, err := policy.ParseMode(cfg.Authz.Mode, cfg.Authz.AllowDisabled)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Policy, err = policy.NewAuthorizer(cfg.Authz.ModelPath, cfg.Authz.PolicyPath, mode)
	if err != nil {
		a.Close()
		return nil, err
	}

	s := a.Stores
	a.Access = rbac.NewResolver(s.Roles, s.Teams, s.Contracts, s.Tx, log)
	a.Approvals = approval.NewEngine(approval.Stores{
		Tx:       s.Tx,
		Rules:    s.Rules,
		Entries:  s.AuditLogs,
		Requests: s.Requests,
		Roles:    s.Roles,
	}, approval.Options{
		Expiry:    cfg.Approval.Expiry,
		Managers:  approval.ManagerResolverFor(cfg.Approval.ManagerResolution, s.Teams),
		Publisher: publisher,
	}, log)
	a.Contracts = service.NewContractService(s.Tx, s.Contracts, a.Access, a.Approvals, log)
	a.Terms = terms.NewService(s.Terms, cfg.Terms.CacheTTL)

	return a, nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
