// Package logging initializes the shared logrus logger the same way
// plantd's proxy/main.go initLogging and core/log.Initialize do: a
// console formatter selected by level/format, plus an optional Loki hook
// for warn-and-above records.
package logging

import (
	log "github.com/sirupsen/logrus"
	loki "github.com/yukitsune/lokirus"

	"github.com/taskforge/fleet/internal/config"
)

// Initialize configures the standard logrus logger from cfg. It is safe to
// call once at process startup in every cmd/ binary.
func Initialize(cfg config.LogConfig) {
	if level, err := log.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(level)
	}

	if cfg.Formatter == "json" {
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	}

	if cfg.Loki.Address == "" {
		return
	}

	opts := loki.NewLokiHookOptions().
		WithLevelMap(loki.LevelMap{log.PanicLevel: "critical"}).
		WithFormatter(&log.JSONFormatter{}).
		WithStaticLabels(lokiLabels(cfg.Loki.Labels))

	hook := loki.NewLokiHookWithOpts(
		cfg.Loki.Address,
		opts,
		log.WarnLevel,
		log.ErrorLevel,
		log.FatalLevel,
		log.PanicLevel,
	)

	log.AddHook(hook)
}

func lokiLabels(m map[string]string) loki.Labels {
	labels := make(loki.Labels, len(m))
	for k, v := range m {
		labels[k] = v
	}
	return labels
}

// WithWorker returns a logger entry pre-tagged with a worker's identity,
// used on every spawn/router log line touching a specific child.
func WithWorker(workerType string, pid int32) *log.Entry {
	return log.WithFields(log.Fields{"worker_type": workerType, "pid": pid})
}

// WithMessage returns a logger entry pre-tagged with an envelope's routing
// identity.
func WithMessage(messageID string, destination string) *log.Entry {
	return log.WithFields(log.Fields{"message_id": messageID, "destination": destination})
}
