package main

import (
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"jmtp/broker"
	"jmtp/codec"
	"jmtp/loadbalance"
	"jmtp/protocol"
	"jmtp/registry"
	"jmtp/router"
)

// LogConfig configures handling of application log events.
type LogConfig struct {
	Level  string `long:"level" env:"LEVEL" default:"info" choice:"info" choice:"debug" choice:"warn" description:"Logging level"`
	Format string `long:"format" env:"FORMAT" default:"text" choice:"json" choice:"text" choice:"color" description:"Logging output format"`
}

// Config is the top-level configuration of a jmtpd daemon.
type Config struct {
	Server struct {
		Listen          string        `long:"listen" env:"LISTEN" default:":7000" description:"Address to accept links on"`
		Advertise       string        `long:"advertise" env:"ADVERTISE" description:"Link name peers dial to reach this daemon. When set with etcd, local addresses are published under it"`
		Codec           string        `long:"codec" env:"CODEC" default:"json" choice:"json" choice:"jsoniter" description:"Payload codec"`
		QueryTimeout    time.Duration `long:"query-timeout" env:"QUERY_TIMEOUT" default:"30s" description:"Deadline of outbound and forwarded queries; 0 waits indefinitely"`
		MaxInflight     int64         `long:"max-inflight" env:"MAX_INFLIGHT" default:"1024" description:"Inbound queries handled at once per link"`
		MessageQueue    int           `long:"message-queue" env:"MESSAGE_QUEUE" default:"256" description:"Inbound messages buffered per link"`
		MaxFrameBytes   int           `long:"max-frame-bytes" env:"MAX_FRAME_BYTES" default:"16777216" description:"Largest accepted frame body"`
		RateLimit       float64       `long:"rate-limit" env:"RATE_LIMIT" default:"0" description:"Inbound queries per second per link; 0 disables"`
		Burst           int           `long:"burst" env:"BURST" default:"100" description:"Rate limiter burst"`
		Retries         int           `long:"retries" env:"RETRIES" default:"0" description:"Retries of forwarded queries failing on a dropped link"`
		ShutdownTimeout time.Duration `long:"shutdown-timeout" env:"SHUTDOWN_TIMEOUT" default:"10s" description:"Time allowed for handlers to finish on exit"`
	} `group:"Server" namespace:"server" env-namespace:"SERVER"`

	Routes struct {
		Peers    []string `long:"peer" env:"PEERS" env-delim:"," description:"Peer address to keep a link to (repeatable)"`
		Static   []string `long:"route" env:"ROUTES" env-delim:"," description:"Static route as address=link (repeatable)"`
		Default  string   `long:"default" env:"DEFAULT" description:"Link receiving frames for unknown addresses"`
		Balancer string   `long:"balancer" env:"BALANCER" default:"round-robin" choice:"round-robin" choice:"consistent-hash" description:"Link selection when an address has several routes"`
		Echo     string   `long:"echo" env:"ECHO" description:"Address of a built-in echo actor"`
	} `group:"Routes" namespace:"routes" env-namespace:"ROUTES"`

	Etcd struct {
		Endpoints []string `long:"endpoint" env:"ENDPOINTS" env-delim:"," description:"Etcd endpoint for the shared route table (repeatable)"`
		Prefix    string   `long:"prefix" env:"PREFIX" default:"/jmtp/routes" description:"Etcd key prefix of the route table"`
		LeaseTTL  int64    `long:"lease" env:"LEASE_TTL" default:"10" description:"Seconds advertised routes outlive this process"`
	} `group:"Etcd" namespace:"etcd" env-namespace:"ETCD"`

	Log LogConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

func newParser(cfg *Config) *flags.Parser {
	parser := flags.NewParser(cfg, flags.Default)
	parser.EnvNamespace = "JMTPD"
	return parser
}

// initLog configures the logger.
func initLog(cfg LogConfig) error {
	switch cfg.Format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text":
		log.SetFormatter(&log.TextFormatter{})
	case "color":
		log.SetFormatter(&log.TextFormatter{ForceColors: true})
	}

	lvl, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return errors.WithMessage(err, "unrecognized log level")
	}
	log.SetLevel(lvl)
	return nil
}

func (cfg *Config) brokerConfig() (broker.Config, error) {
	ct, err := codec.ParseCodecType(cfg.Server.Codec)
	if err != nil {
		return broker.Config{}, err
	}
	bc := broker.DefaultConfig()
	bc.CodecType = ct
	bc.QueryTimeout = cfg.Server.QueryTimeout
	bc.MaxInflightQueries = cfg.Server.MaxInflight
	bc.MessageQueue = cfg.Server.MessageQueue
	if cfg.Server.MaxFrameBytes > 0 {
		bc.Limits = protocol.Limits{
			MaxLineBytes:  protocol.DefaultLimits().MaxLineBytes,
			MaxFrameBytes: cfg.Server.MaxFrameBytes,
		}
	}
	return bc, nil
}

// buildRouter applies the static routing configuration.
func (cfg *Config) buildRouter() (*router.Router, error) {
	r := router.New(loadbalance.ByName(cfg.Routes.Balancer))
	for _, spec := range cfg.Routes.Static {
		entry, err := parseRoute(spec)
		if err != nil {
			return nil, err
		}
		r.Route(entry.Address, entry.Link)
	}
	r.SetDefault(cfg.Routes.Default)
	if cfg.Routes.Echo != "" {
		r.Handle(cfg.Routes.Echo, newEcho(r, cfg.Routes.Echo))
	}
	return r, nil
}

// parseRoute parses "address=link".
func parseRoute(spec string) (registry.RouteEntry, error) {
	addr, link, ok := strings.Cut(spec, "=")
	addr, link = strings.TrimSpace(addr), strings.TrimSpace(link)
	if !ok || addr == "" || link == "" {
		return registry.RouteEntry{}, errors.Errorf("invalid route %q, expected address=link", spec)
	}
	return registry.RouteEntry{Address: addr, Link: link}, nil
}
