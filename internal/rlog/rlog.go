// Package rlog wraps github.com/sirupsen/logrus the way the teacher's
// cmd/state.GlobalState did: one configured *logrus.Logger per process,
// colorized via fatih/color + mattn/go-isatty + mattn/go-colorable when
// stdout/stderr are terminals, downgraded to plain text otherwise.
package rlog

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// Fields attached at each layer per SPEC_FULL.md's Logging section.
const (
	FieldPhase  = "phase"
	FieldModule = "module"
	FieldPort   = "port"
	FieldRunID  = "run_id"
)

// New builds a logger writing to stderr, colorized when stderr is a
// terminal and NO_COLOR/K6_NO_COLOR-equivalent (noColor) is unset —
// mirroring the isatty check state.NewGlobalState applies to stdout.
func New(verbose, noColor bool) *logrus.Logger {
	stderrTTY := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	var out io.Writer = colorable.NewColorable(os.Stderr)

	level := logrus.InfoLevel
	if verbose {
		level = logrus.DebugLevel
	}

	color.NoColor = noColor || !stderrTTY

	return &logrus.Logger{
		Out: out,
		Formatter: &logrus.TextFormatter{
			ForceColors:   stderrTTY && !noColor,
			DisableColors: !stderrTTY || noColor,
			FullTimestamp: true,
		},
		Hooks: make(logrus.LevelHooks),
		Level: level,
	}
}

// WithRun attaches the run-correlation field used throughout the
// orchestrator and bus (SPEC_FULL.md: "run_id").
func WithRun(log logrus.FieldLogger, runID string) logrus.FieldLogger {
	return log.WithField(FieldRunID, runID)
}

// WithPhase attaches the orchestrator phase tag.
func WithPhase(log logrus.FieldLogger, phase string) logrus.FieldLogger {
	return log.WithField(FieldPhase, phase)
}

// ApplyFormat switches log's formatter to one of "text" (default),
// "json", "raw", or "logstash", matching the choices the teacher's
// setupLoggers/RawFormatter offered (cmd/root.go, cmd/logger.go).
func ApplyFormat(log *logrus.Logger, format string) {
	switch format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "raw":
		log.SetFormatter(&RawFormatter{})
	case "logstash":
		log.SetFormatter(&LogstashFormatter{})
	default:
	}
}

// RawFormatter prints only the message, nothing else.
type RawFormatter struct{}

func (f *RawFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return append([]byte(entry.Message), '\n'), nil
}

// LogstashFormatter emits the logstash v1 event schema (adapted from the
// teacher's cmd.LogstashJSONFormatter).
type LogstashFormatter struct{}

func (f *LogstashFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	e := make(map[string]interface{}, len(entry.Data)+4)
	for k, v := range entry.Data {
		if err, ok := v.(error); ok {
			e[k] = err.Error()
		} else {
			e[k] = v
		}
	}
	e["@timestamp"] = entry.Time.Format(time.RFC3339)
	e["@version"] = "1"
	e["message"] = entry.Message
	e["level_name"] = entry.Level.String()

	serialised, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append(serialised, '\n'), nil
}
