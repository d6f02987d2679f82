// Command riftmqd runs the riftmq broker core as a standalone TCP server.
// Flag parsing and process wiring live here; everything below it is the
// collaborator surface described by the broker's own packages.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/riftmq/broker/broker"
	"github.com/riftmq/broker/conn"
	"github.com/riftmq/broker/hook"
	"github.com/riftmq/broker/network"
	"github.com/riftmq/broker/pkg/logger"
)

// Config holds the process-level settings for the broker: listen address,
// credential policy, and the optional $SYS stats cadence.
type Config struct {
	BindAddress               string
	BindPort                  uint16
	AllowAnonymous            bool
	Username                  string
	Password                  string
	SysPublishIntervalSeconds uint64
}

func main() {
	cfg := parseFlags()

	log := logger.NewSlogLogger(slog.LevelInfo, os.Stdout).Logger()

	if err := run(cfg, log); err != nil {
		log.Error("riftmqd exited with error", "error", err)
		os.Exit(1)
	}
}

func parseFlags() Config {
	var cfg Config
	flag.StringVar(&cfg.BindAddress, "bind-address", "0.0.0.0", "address to listen on")
	var port uint
	flag.UintVar(&port, "bind-port", 1883, "TCP port to listen on")
	flag.BoolVar(&cfg.AllowAnonymous, "allow-anonymous", true, "accept CONNECT packets with no username")
	flag.StringVar(&cfg.Username, "username", "", "single static username to accept, in addition to anonymous access if allowed")
	flag.StringVar(&cfg.Password, "password", "", "password for -username")
	var sysInterval uint
	flag.UintVar(&sysInterval, "sys-publish-interval", 0, "seconds between $SYS/broker/... stat publishes; 0 disables")
	flag.Parse()

	cfg.BindPort = uint16(port)
	cfg.SysPublishIntervalSeconds = uint64(sysInterval)
	return cfg
}

// run wires the broker core, listener, and every connection actor
// collaborator together, then blocks until ctx (SIGINT/SIGTERM) is
// canceled, at which point it drains connections, stops the listener,
// and stops the broker core before returning.
func run(cfg Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := broker.New(log, 0)
	go b.Run()

	var publisher *broker.Publisher
	if cfg.SysPublishIntervalSeconds > 0 {
		publisher = broker.NewPublisher(b.Stats(), time.Duration(cfg.SysPublishIntervalSeconds)*time.Second, b.Commands(), log)
		publisher.Start()
	}

	authn := buildAuthenticator(cfg)
	limiter := hook.NewRateLimiter(100, time.Second)
	defer limiter.Stop()

	dm := network.NewDisconnectManager(5 * time.Second)
	dm.OnDisconnect(func(c *network.Connection, ev *network.DisconnectEvent) error {
		log.Info("connection closed", "client_id", c.ClientID(), "conn_id", c.ID(), "reason", ev.Reason.String())
		return nil
	})
	watchdogs := network.NewWatchdogRegistry()
	defer watchdogs.Close()

	pool, err := network.NewPool(network.DefaultPoolConfig())
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}

	listenerCfg := network.DefaultListenerConfig(fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.BindPort))
	listener, err := network.NewListener(listenerCfg, pool)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	actorCfg := conn.Config{
		Authenticator:     authn,
		RateLimiter:       limiter,
		DisconnectManager: dm,
		Watchdogs:         watchdogs,
		Stats:             b.Stats(),
		Logger:            log,
	}

	listener.OnConnection(func(netConn *network.Connection) error {
		actor := conn.NewActor(netConn, b.Commands(), actorCfg)
		return actor.Run(ctx)
	})

	if err := listener.Start(); err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}
	log.Info("riftmqd listening", "address", listenerCfg.Address)

	<-ctx.Done()
	log.Info("shutdown signal received, draining connections")

	shutdown := network.NewGracefulShutdown(pool, dm, 10*time.Second)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := shutdown.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown did not finish cleanly", "error", err)
	}

	if err := listener.Close(); err != nil {
		log.Warn("listener close error", "error", err)
	}

	if publisher != nil {
		publisher.Stop()
	}
	b.Stop()

	return nil
}

// buildAuthenticator supports a single static username/password pair plus
// an allow-anonymous toggle; real credential storage is left to a
// separate Authenticator implementation.
func buildAuthenticator(cfg Config) hook.Authenticator {
	if cfg.Username == "" {
		if cfg.AllowAnonymous {
			return hook.AllowAllAuthenticator{}
		}
		return hook.NewStaticAuthenticator(false)
	}

	authn := hook.NewStaticAuthenticator(cfg.AllowAnonymous)
	authn.AddUser(cfg.Username, cfg.Password)
	return authn
}
