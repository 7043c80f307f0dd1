package main

import (
	"context"
	"fmt"
	"time"

	"github.com/leadcheck/leadcheck/internal/config"
	"github.com/leadcheck/leadcheck/internal/eventbus"
	"github.com/leadcheck/leadcheck/internal/feed"
	"github.com/leadcheck/leadcheck/internal/handoff"
	"github.com/leadcheck/leadcheck/internal/leads"
	"github.com/leadcheck/leadcheck/internal/lifecycle"
	"github.com/leadcheck/leadcheck/internal/notification"
	"github.com/leadcheck/leadcheck/internal/roster"
	"github.com/leadcheck/leadcheck/internal/storage"
	"github.com/leadcheck/leadcheck/internal/storage/factory"
	"github.com/leadcheck/leadcheck/internal/telemetry"
	"github.com/leadcheck/leadcheck/internal/types"
)

// services is everything a command or the server needs.
type services struct {
	store  storage.Storage
	roster *roster.Roster
	bus    *eventbus.Bus
	orch   *handoff.Orchestrator
}

func openStore(ctx context.Context) (storage.Storage, error) {
	s, err := factory.New(ctx, config.GetString("db.driver"), factory.Options{
		Path:   config.GetString("db.path"),
		DSN:    config.GetString("db.dsn"),
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return telemetry.WrapStorage(s), nil
}

func leadProvider() leads.Provider {
	if base := config.GetString("leads.base_url"); base != "" {
		p := leads.NewHTTPProvider(base, config.GetString("leads.token"), logger)
		if d := config.GetDuration("leads.max_elapsed"); d > 0 {
			p.MaxElapsed = d
		}
		return p
	}
	if path := config.GetString("leads.file"); path != "" {
		return &leads.FileProvider{Path: path, Logger: logger}
	}
	// Claims of existing sessions still work; creating one reports the
	// provider as unavailable.
	return nil
}

// buildServices wires storage, roster, notifications and the orchestrator.
// publisher, when set, receives every bus event for the live feed.
func buildServices(ctx context.Context, publisher eventbus.Publisher) (*services, error) {
	s, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	r, err := roster.Load(config.GetString("roster.file"), logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	notifyCfg, err := config.Notification()
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	bus := eventbus.New(logger)
	bus.Register(&eventbus.NotifyHandler{Notifier: notification.NewDispatcher(notifyCfg, s, logger)})
	if publisher != nil {
		bus.Register(&eventbus.FeedHandler{Feed: publisher})
	}

	o := handoff.New(handoff.Options{
		Store:       s,
		Leads:       leadProvider(),
		Bus:         bus,
		Roster:      r,
		Logger:      logger,
		Now:         func() time.Time { return time.Now().UTC() },
		Transitions: telemetry.NewTransitions(),
	})
	return &services{store: s, roster: r, bus: bus, orch: o}, nil
}

// getOrchestrator opens the services for a one-shot CLI command.
func getOrchestrator() *handoff.Orchestrator {
	if orch != nil {
		return orch
	}
	publisher, cleanup := cliPublisher()
	closeRelay = cleanup
	svc, err := buildServices(rootCtx, publisher)
	if err != nil {
		FatalError("%v", err)
	}
	store = svc.store
	orch = svc.orch
	return orch
}

// currentActor resolves --actor/--role (or LC_ACTOR/LC_ROLE). A missing
// role is looked up in the roster.
func currentActor() lifecycle.Actor {
	id := config.GetString("actor")
	if id == "" {
		FatalErrorWithHint("no acting agent", "pass --actor or set LC_ACTOR")
	}
	raw := config.GetString("role")
	if raw == "" {
		if a, ok := lookupAgent(id); ok {
			return lifecycle.Actor{ID: id, Role: a.Role}
		}
		FatalErrorWithHint(fmt.Sprintf("no role for %s", id), "pass --role or add the agent to the roster file")
	}
	role, err := types.ParseRole(raw)
	if err != nil {
		FatalError("%v", err)
	}
	return lifecycle.Actor{ID: id, Role: role}
}

func lookupAgent(id string) (roster.Agent, bool) {
	r, err := roster.Load(config.GetString("roster.file"), logger)
	if err != nil {
		return roster.Agent{}, false
	}
	return r.Lookup(id)
}

// cliPublisher forwards the changes of a one-shot command to the feed relay,
// so clients of a running lc serve see them. Without a reachable relay the
// command still runs and the feed catches up on the clients' next fetch.
func cliPublisher() (eventbus.Publisher, func()) {
	relay, cleanup, err := feedRelay(false)
	if err != nil {
		WarnError("live feed will not see this change: %v", err)
		return nil, func() {}
	}
	if relay == nil {
		return nil, cleanup
	}
	return feed.NewHub(feed.Options{Relay: relay, Logger: logger}), cleanup
}

// feedRelay builds the relay named by feed.relay. serving is set for lc
// serve, which hosts the nats-embedded server; other commands connect to it
// as clients. The returned cleanup is never nil.
func feedRelay(serving bool) (feed.Relay, func(), error) {
	noop := func() {}
	switch config.GetString("feed.relay") {
	case "", "none":
		return nil, noop, nil
	case "redis":
		r, err := feed.NewRedisRelay(config.GetString("feed.redis_url"), config.GetString("feed.redis_stream"), logger)
		if err != nil {
			return nil, noop, err
		}
		return r, func() { _ = r.Close() }, nil
	case "nats":
		r, err := feed.NewNATSRelay(config.GetString("feed.nats_url"), config.GetString("feed.nats_token"), logger)
		if err != nil {
			return nil, noop, err
		}
		return r, func() { _ = r.Close() }, nil
	case "nats-embedded":
		if !serving {
			url := fmt.Sprintf("nats://127.0.0.1:%d", config.GetInt("feed.nats_port"))
			r, err := feed.NewNATSRelay(url, config.GetString("feed.nats_token"), logger)
			if err != nil {
				return nil, noop, err
			}
			return r, func() { _ = r.Close() }, nil
		}
		e, err := feed.StartEmbeddedNATS(feed.EmbeddedConfig{
			Port:     config.GetInt("feed.nats_port"),
			StoreDir: config.GetString("feed.nats_store_dir"),
			Token:    config.GetString("feed.nats_token"),
		})
		if err != nil {
			return nil, noop, err
		}
		r, err := e.Relay(logger)
		if err != nil {
			e.Shutdown()
			return nil, noop, err
		}
		logger.Info("embedded NATS started", "url", e.ClientURL())
		return r, func() { _ = r.Close(); e.Shutdown() }, nil
	default:
		return nil, noop, fmt.Errorf("unknown feed.relay %q (none, redis, nats, nats-embedded)", config.GetString("feed.relay"))
	}
}
