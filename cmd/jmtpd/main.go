// jmtpd is a standalone message broker. It accepts links, keeps links to its
// configured peers, and routes frames between them by address.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"jmtp/client"
	"jmtp/middleware"
	"jmtp/registry"
	"jmtp/server"
)

type serveCmd struct {
	cfg *Config
}

func (cmd serveCmd) Execute(args []string) error {
	cfg := cmd.cfg
	if err := initLog(cfg.Log); err != nil {
		return err
	}
	log.WithField("config", cfg).Info("starting jmtpd")

	bc, err := cfg.brokerConfig()
	if err != nil {
		return err
	}
	r, err := cfg.buildRouter()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svr := server.NewServer(r, nil, bc)
	svr.Use(middleware.RecoverMiddleware())
	svr.Use(middleware.LoggingMiddleware())
	if cfg.Server.RateLimit > 0 {
		svr.Use(middleware.RateLimitMiddleware(cfg.Server.RateLimit, cfg.Server.Burst))
	}
	if cfg.Server.Retries > 0 {
		svr.Use(middleware.RetryMiddleware(cfg.Server.Retries, 50*time.Millisecond))
	}
	if cfg.Server.QueryTimeout > 0 {
		svr.Use(middleware.TimeOutMiddleware(cfg.Server.QueryTimeout))
	}

	if len(cfg.Etcd.Endpoints) != 0 {
		table, err := registry.NewEtcdTable(cfg.Etcd.Endpoints, cfg.Etcd.Prefix)
		if err != nil {
			return err
		}
		defer table.Close()

		go func() {
			if err := r.Sync(ctx, table); err != nil && ctx.Err() == nil {
				log.WithField("err", err).Error("route table sync failed")
			}
		}()
		if cfg.Server.Advertise != "" {
			svr.Advertise(table, cfg.Server.Advertise, cfg.Etcd.LeaseTTL)
		}
	}

	peers := client.NewClient(r, nil, bc)
	peers.Use(middleware.RecoverMiddleware())
	peers.Use(middleware.LoggingMiddleware())
	for _, addr := range cfg.Routes.Peers {
		go func(addr string) {
			if err := peers.Maintain(ctx, addr); err != nil && ctx.Err() == nil {
				log.WithFields(log.Fields{"peer": addr, "err": err}).Warn("peer link abandoned")
			}
		}(addr)
	}

	served := make(chan error, 1)
	go func() { served <- svr.Serve("tcp", cfg.Server.Listen) }()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-signalCh:
		log.WithField("signal", sig).Info("caught signal")
	case err := <-served:
		if err != nil {
			log.WithField("err", err).Error("server failed")
		}
	}

	cancel()
	if err := svr.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
		log.WithField("err", err).Warn("unclean shutdown")
	}
	peers.Close()
	log.Info("goodbye")
	return nil
}

func main() {
	cfg := new(Config)
	parser := newParser(cfg)

	parser.AddCommand("serve", "Serve as a jmtp broker", `
serve a jmtp broker with the provided configuration, until signaled to exit
(via SIGTERM or SIGINT). On exit, links are closed and queries pending on them
fail with a link-closed error.
`, &serveCmd{cfg: cfg})

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
