// Package broker owns one link: a duplex stream to a peer broker carrying
// messages and queries in both directions.
//
// A Broker allocates correlation ids for outbound queries and keeps a pending
// entry per id until exactly one outcome arrives: a result, an application
// error, a timeout, or link closure. One goroutine reads frames and
// dispatches them by kind:
//
//	result / query_error  → pending table, resolved by id
//	message / message_err → ordered dispatcher → router → handler or link
//	get / set             → one goroutine per query → middleware → router,
//	                        answered with the inbound id
//
//	caller-1 ──QueryGet(id=1)──┐
//	caller-2 ──QueryGet(id=2)──┼──→ Encoder ──→ peer
//	caller-3 ──Message()───────┘
//	read loop ←── result(id=2) → pending[2] → caller-2 wakes up
package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jmtp_frames_sent_total",
		Help: "Cumulative number of frames written, by command.",
	}, []string{"command"})
	framesReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jmtp_frames_received_total",
		Help: "Cumulative number of frames read, by command.",
	}, []string{"command"})
	pendingQueries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jmtp_pending_queries",
		Help: "Number of outbound queries awaiting a response.",
	})
	unmatchedResponsesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jmtp_unmatched_responses_total",
		Help: "Cumulative number of responses whose correlation id had no pending query.",
	})
	queryTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jmtp_query_timeouts_total",
		Help: "Cumulative number of outbound queries resolved locally by timeout.",
	})
	linksClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jmtp_links_closed_total",
		Help: "Cumulative number of closed links, by reason.",
	}, []string{"reason"})
	droppedFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jmtp_dropped_frames_total",
		Help: "Cumulative number of inbound frames dropped, by reason.",
	}, []string{"reason"})
)
