package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Polls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedingest_polls_total",
			Help: "Feed polls by result.",
		},
		[]string{"result"},
	)

	Posts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedingest_posts_total",
			Help: "Feed entries seen by the poller, by outcome (inserted, duplicate, skipped).",
		},
		[]string{"outcome"},
	)

	Dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedingest_dispatches_total",
			Help: "Crawl submissions by outcome (submitted, rejected, failed).",
		},
		[]string{"outcome"},
	)

	PartialFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedingest_partial_failures_total",
			Help: "Two-step subscription operations that left feed and trigger out of sync.",
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(Polls, Posts, Dispatches, PartialFailures)
}
