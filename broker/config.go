package broker

import (
	"time"

	"jmtp/codec"
	"jmtp/protocol"
)

// Config tunes one Broker.
type Config struct {
	// Name labels the link in logs. A random id is used when empty.
	Name      string
	CodecType codec.CodecType
	// QueryTimeout bounds outbound queries that carry no deadline of their
	// own. Zero waits for a response or link closure.
	QueryTimeout time.Duration
	// MaxInflightQueries bounds inbound query handlers running at once. Excess
	// queries are answered with wait/resource-constraint.
	MaxInflightQueries int64
	// MessageQueue is the number of inbound messages buffered ahead of the
	// message dispatcher. Excess messages are bounced with
	// wait/resource-constraint.
	MessageQueue int
	Limits       protocol.Limits
}

func DefaultConfig() Config {
	return Config{
		CodecType:          codec.CodecTypeJSON,
		MaxInflightQueries: 1024,
		MessageQueue:       256,
		Limits:             protocol.DefaultLimits(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxInflightQueries <= 0 {
		c.MaxInflightQueries = d.MaxInflightQueries
	}
	if c.MessageQueue <= 0 {
		c.MessageQueue = d.MessageQueue
	}
	if c.Limits.MaxLineBytes <= 0 || c.Limits.MaxFrameBytes <= 0 {
		c.Limits = d.Limits
	}
	return c
}
