package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	writesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "levellog_writes_total",
		Help: "Entries written, by level and write mode",
	}, []string{"level", "mode"})

	writeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "levellog_write_errors_total",
		Help: "Failed writes, by level and write mode",
	}, []string{"level", "mode"})

	tailBytesShifted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "levellog_tail_bytes_shifted_total",
		Help: "Bytes moved forward to open a gap for spliced entries",
	})

	spliceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "levellog_splice_duration_seconds",
		Help:    "Time spent inside one splice insert, file lock held",
		Buckets: prometheus.ExponentialBuckets(0.00005, 4, 10),
	})

	gateWaitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "levellog_gate_wait_seconds",
		Help:    "Time a writer waited for its level gate to open",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	}, []string{"level"})

	rotationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "levellog_rotations_total",
		Help: "Log files rotated because of size or age",
	})

	recoveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "levellog_recoveries_total",
		Help: "Position tables rebuilt from file content after a failed splice",
	})
)

const (
	modeOrdered   = "ordered"
	modeUnordered = "unordered"
)
