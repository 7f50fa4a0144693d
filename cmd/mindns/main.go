// Command mindns is a recursive-capable, rule-driven DNS front-end: it
// applies a user-supplied rule set to block, synthesize, or forward each
// incoming query, optionally recursing against a configured upstream when
// no rule matches.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sammwyy/mindns-go/internal/config"
	"github.com/sammwyy/mindns-go/internal/dnsserver"
	"github.com/sammwyy/mindns-go/internal/logging"
	"github.com/sammwyy/mindns-go/internal/netudp"
	"github.com/sammwyy/mindns-go/internal/resolver"
	"github.com/sammwyy/mindns-go/internal/rules"
	"github.com/sammwyy/mindns-go/internal/rulesync"
)

const configPath = "./mindns.toml"
const upstreamTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("mindns failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, closeLog, err := logging.Setup(cfg.Logs)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	instanceID := uuid.New().String()

	loadedRules, err := loadRules(cfg.Rules)
	if err != nil {
		return err
	}
	logger.Info("rules loaded", "count", len(loadedRules))

	var res *resolver.Resolver
	if cfg.Mirror.Enabled {
		res = resolver.New(cfg.Mirror.Server, resolver.NewUDPTransport(upstreamTimeout))
	}

	handler := dnsserver.New(loadedRules, res, cfg.Mirror.Enabled, logger)

	var ruleSync *rulesync.Sync
	if cfg.RuleSync.Enabled {
		ruleSync = rulesync.New(cfg.RuleSync.Addr, cfg.RuleSync.Channel)
		defer func() { _ = ruleSync.Close() }()

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := ruleSync.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("rulesync: connect to %s: %w", cfg.RuleSync.Addr, err)
		}
		go watchReloads(ctx, ruleSync, cfg.Rules, handler, logger)
		logger.Info("rulesync connected", "addr", cfg.RuleSync.Addr)
	}

	addr := net.JoinHostPort(cfg.Server.Bind, fmt.Sprintf("%d", cfg.Server.Port))
	peerTimeout := time.Duration(cfg.Server.PeerTimeoutSec) * time.Second

	srv := netudp.NewServer(addr, peerTimeout, handler.Serve, logger)

	logger.Info("mindns starting",
		"instance_id", instanceID,
		"addr", addr,
		"mirror_enabled", cfg.Mirror.Enabled,
		"rulesync_enabled", cfg.RuleSync.Enabled,
	)

	return srv.Run(ctx)
}

// loadRules loads every configured rule source in order; later sources are
// appended after earlier ones, so first-match-wins still respects config
// ordering.
func loadRules(settings []config.RuleSettings) ([]rules.Rule, error) {
	var out []rules.Rule
	for _, rs := range settings {
		path, err := config.ResolvePath(rs.Path)
		if err != nil {
			return nil, err
		}

		var loaded []rules.Rule
		switch rs.LoadAs {
		case "file":
			loaded, err = rules.ParseFile(path)
		case "dir":
			loaded, err = rules.ParseDir(path)
		default:
			return nil, fmt.Errorf("rules: unknown load_as %q for %s", rs.LoadAs, rs.Path)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, loaded...)
	}
	return out, nil
}

// watchReloads subscribes to rule-reload notifications and re-parses the
// configured rule sources in place whenever one arrives.
func watchReloads(ctx context.Context, ruleSync *rulesync.Sync, settings []config.RuleSettings, handler *dnsserver.Handler, logger *slog.Logger) {
	ch := ruleSync.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := reloadRules(settings, handler, msg); err != nil {
				logger.Warn("rule reload failed", "error", err)
			}
		}
	}
}

func reloadRules(settings []config.RuleSettings, handler *dnsserver.Handler, msg *redis.Message) error {
	if msg == nil {
		return errors.New("rulesync: nil reload message")
	}
	reloaded, err := loadRules(settings)
	if err != nil {
		return err
	}
	handler.SetRules(reloaded)
	return nil
}
