package main

import (
	"context"
	"fmt"
	"log/slog"

	mandate "github.com/glimte/mandate-go"
	"github.com/glimte/mandate-go/audit"
	"github.com/glimte/mandate-go/catalog"
	"github.com/glimte/mandate-go/config"
	"github.com/glimte/mandate-go/integrity"
	"github.com/glimte/mandate-go/internal/rabbitmq"
	"github.com/glimte/mandate-go/messaging"
	httptransport "github.com/glimte/mandate-go/transports/http"
	amqptransport "github.com/glimte/mandate-go/transports/rabbitmq"
)

// stack is everything built from config that needs closing
type stack struct {
	network *mandate.Network
	broker  *rabbitmq.ConnectionManager
	closers []func()
}

func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// baseOptions turns config into network options shared by every command
func baseOptions(ctx context.Context, cfg *config.Config, logger *slog.Logger, st *stack) ([]mandate.Option, error) {
	opts := []mandate.Option{
		mandate.WithLogger(logger),
		mandate.WithShoppingAgentID(cfg.Shopping.AgentID),
		mandate.WithTrustedCallers(cfg.Shopping.TrustedCallers...),
		mandate.WithIntentTTL(cfg.Shopping.IntentTTL),
		mandate.WithRequestTimeout(cfg.Shopping.RequestTimeout),
		mandate.WithPayer(cfg.Shopping.PayerName, cfg.Shopping.PayerEmail),
		mandate.WithCartWindow(cfg.Merchant.CartWindow),
	}

	if cfg.Signing.Secret != "" {
		key, err := integrity.NewHMACKey(cfg.Signing.KeyID, []byte(cfg.Signing.Secret))
		if err != nil {
			return nil, err
		}
		opts = append(opts, mandate.WithSigningKey(key))
	} else if cfg.Transport != config.TransportInProcess {
		logger.Warn("no signing secret configured, mandates will not verify across processes")
	}

	if cfg.Merchant.CatalogPath != "" {
		cat, err := catalog.Load(cfg.Merchant.CatalogPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, mandate.WithCatalog(cat))
	}

	if cfg.Postgres.URL != "" {
		pool, err := audit.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, pool.Close)
		ledger := audit.NewPostgresLedger(pool)
		if err := ledger.Migrate(ctx); err != nil {
			return nil, err
		}
		opts = append(opts, mandate.WithLedger(ledger))
	}
	return opts, nil
}

func connectBroker(ctx context.Context, cfg *config.Config, logger *slog.Logger, st *stack) (*rabbitmq.ConnectionManager, error) {
	if st.broker != nil {
		return st.broker, nil
	}
	manager := rabbitmq.NewConnectionManager(cfg.AMQP.URL, rabbitmq.WithLogger(logger))
	if err := manager.Connect(ctx); err != nil {
		return nil, err
	}
	st.broker = manager
	st.closers = append(st.closers, func() { _ = manager.Close() })
	return manager, nil
}

// remoteTransport returns the transport a shopping client uses to reach
// agents hosted elsewhere, or nil to host them in process.
func remoteTransport(ctx context.Context, cfg *config.Config, logger *slog.Logger, st *stack) (messaging.Transport, error) {
	switch cfg.Transport {
	case config.TransportHTTP:
		return httptransport.NewClient(cfg.HTTP.BaseURL), nil
	case config.TransportAMQP:
		manager, err := connectBroker(ctx, cfg, logger, st)
		if err != nil {
			return nil, err
		}
		return amqptransport.NewClient(manager, amqptransport.WithClientLogger(logger))
	default:
		return nil, nil
	}
}

// buildClient builds the network a shopper drives
func buildClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stack, error) {
	st := &stack{}
	opts, err := baseOptions(ctx, cfg, logger, st)
	if err != nil {
		st.Close()
		return nil, err
	}
	transport, err := remoteTransport(ctx, cfg, logger, st)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to reach agents: %w", err)
	}
	if transport != nil {
		opts = append(opts, mandate.WithTransport(transport))
	}

	network, err := mandate.NewNetwork(opts...)
	if err != nil {
		st.Close()
		return nil, err
	}
	st.network = network
	st.closers = append(st.closers, func() { _ = network.Close() })
	return st, nil
}

// buildHost builds a network hosting the agents locally
func buildHost(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stack, error) {
	st := &stack{}
	opts, err := baseOptions(ctx, cfg, logger, st)
	if err != nil {
		st.Close()
		return nil, err
	}
	network, err := mandate.NewNetwork(opts...)
	if err != nil {
		st.Close()
		return nil, err
	}
	st.network = network
	return st, nil
}
