package ipmigo

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Process-wide metrics, safe for concurrent use by multiple Clients sharing
// this program (Section 5: a single Client's session state stays
// single-threaded, but Inc/Observe on these collectors is not).
var (
	sessionsOpened = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ipmigo",
		Subsystem: "session",
		Name:      "open_total",
		Help:      "Number of session establishment attempts, by IPMI version and outcome.",
	}, []string{"version", "outcome"})

	sessionOpenDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ipmigo",
		Subsystem: "session",
		Name:      "open_duration_seconds",
		Help:      "Time spent establishing a session, including the RAKP handshake.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"version"})

	commandsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ipmigo",
		Subsystem: "dispatch",
		Name:      "commands_total",
		Help:      "Number of commands executed, by command name and outcome.",
	}, []string{"command", "outcome"})

	dispatchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ipmigo",
		Subsystem: "dispatch",
		Name:      "duration_seconds",
		Help:      "Round-trip time of a single command execution.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"command"})
)

func init() {
	prometheus.MustRegister(sessionsOpened, sessionOpenDuration, commandsDispatched, dispatchDuration)
}

func observeSessionOpen(v Version, elapsed time.Duration, err error) {
	version := "v2.0"
	if v == V1_5 {
		version = "v1.5"
	}
	sessionOpenDuration.WithLabelValues(version).Observe(elapsed.Seconds())
	sessionsOpened.WithLabelValues(version, outcomeLabel(err)).Inc()
}

func observeDispatch(cmd Command, elapsed time.Duration, err error) {
	dispatchDuration.WithLabelValues(cmd.Name()).Observe(elapsed.Seconds())
	commandsDispatched.WithLabelValues(cmd.Name(), outcomeLabel(err)).Inc()
}

func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	return "error"
}
