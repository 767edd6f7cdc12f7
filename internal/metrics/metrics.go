package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	FramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_client_frames_total",
		Help: "Total gateway frames received, by classified kind.",
	}, []string{"kind"})

	MalformedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_client_malformed_frames_total",
		Help: "Total frames that failed to decode (swallowed).",
	})

	Reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_client_reconnects_total",
		Help: "Total automatic reconnect attempts after abnormal close.",
	})

	PingsAnswered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_client_pings_answered_total",
		Help: "Total server pings answered with a pong.",
	})

	DedupDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_client_dedup_dropped_total",
		Help: "Total messages dropped by the merge step as duplicates.",
	})

	SendsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_client_sends_total",
		Help: "Total outbound messages accepted by the pipeline.",
	})

	SendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_client_send_failures_total",
		Help: "Total outbound messages that failed at the transport.",
	})

	OptimisticPromoted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_client_optimistic_promoted_total",
		Help: "Total optimistic messages promoted after the finalization timeout.",
	})

	LoadRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_client_load_requests_total",
		Help: "Total message-history load requests issued.",
	})
)

func Register() {
	prometheus.MustRegister(
		FramesTotal, MalformedFrames,
		Reconnects, PingsAnswered, DedupDropped,
		SendsTotal, SendFailures, OptimisticPromoted,
		LoadRequests,
	)
}
