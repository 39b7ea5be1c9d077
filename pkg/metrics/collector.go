package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fineu/fineu-core/internal/progression"
	"github.com/fineu/fineu-core/internal/store"
)

var (
	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fineu_commands_total",
			Help: "Total number of CLI commands executed labeled by command and status",
		},
		[]string{"command", "status"},
	)
	levelTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fineu_level_transitions_total",
			Help: "Total number of level transitions",
		},
		[]string{"from", "to"},
	)
	experienceGrantedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fineu_experience_granted_total",
			Help: "Total experience granted",
		},
	)
	storeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fineu_store_events_total",
			Help: "Store integrity and validation events split by type",
		},
		[]string{"event"},
	)
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fineu_errors_total",
			Help: "Total number of errors split by code and severity",
		},
		[]string{"code", "severity"},
	)
)

func init() {
	progression.RegisterTransitionRecorder(RecordLevelTransition)
	progression.RegisterGrantRecorder(RecordExperienceGranted)
	store.RegisterEventRecorder(RecordStoreEvent)
}

// RecordCommand counts a CLI command by outcome.
func RecordCommand(command, status string) {
	if command == "" {
		command = "unknown"
	}
	if status == "" {
		status = "unknown"
	}

	commandsTotal.WithLabelValues(command, status).Inc()
}

// RecordLevelTransition tracks level changes.
func RecordLevelTransition(from, to string) {
	if from == "" {
		from = "unknown"
	}
	if to == "" {
		to = "unknown"
	}

	levelTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordExperienceGranted adds delta to the experience counter.
func RecordExperienceGranted(delta int64) {
	if delta <= 0 {
		return
	}
	experienceGrantedTotal.Add(float64(delta))
}

// RecordStoreEvent counts integrity resets, corruption fallbacks and validation failures.
func RecordStoreEvent(event string) {
	if event == "" {
		event = "unknown"
	}

	storeEventsTotal.WithLabelValues(event).Inc()
}

// RecordError increments error counters with metadata.
func RecordError(code, severity string) {
	if code == "" {
		code = "unknown"
	}
	if severity == "" {
		severity = "unknown"
	}

	errorsTotal.WithLabelValues(code, severity).Inc()
}
