package main

import (
	"context"

	log "github.com/sirupsen/logrus"

	"jmtp/message"
	"jmtp/router"
)

// echo answers every query with its own payload and sends every message
// back to its sender.
type echo struct {
	router  *router.Router
	address string
}

func newEcho(r *router.Router, address string) *echo {
	return &echo{router: r, address: address}
}

func (e *echo) HandleMessage(ctx context.Context, f *message.Frame) {
	if f.Command != message.CmdMessage {
		return
	}
	t, ok := e.router.Resolve(f.From, e.address)
	switch {
	case !ok:
		log.WithField("to", f.From).Debug("echo: no route back to sender")
	case t.IsLocal():
		t.Handler.HandleMessage(ctx, &message.Frame{Command: message.CmdMessage, To: f.From, From: e.address, Payload: f.Payload})
	default:
		if err := t.Link.Forward(&message.Frame{Command: message.CmdMessage, To: f.From, From: e.address, Payload: f.Payload}); err != nil {
			log.WithFields(log.Fields{"to": f.From, "err": err}).Warn("echo: reply failed")
		}
	}
}

func (e *echo) HandleQuery(ctx context.Context, f *message.Frame) (any, error) {
	return f.Payload, nil
}
