// Package telemetry provides the production observability stack: a
// structured logger, an OpenTelemetry tracer behind core.Telemetry, and an
// OpenTelemetry metrics implementation behind core.Metrics, plus the SDK
// bootstrap that exports both over OTLP/HTTP.
package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

type logLevel int

const (
	levelDebug logLevel = iota
	levelInfo
	levelWarn
	levelError
)

func parseLevel(s string) logLevel {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return levelDebug
	case "WARN", "WARNING":
		return levelWarn
	case "ERROR":
		return levelError
	default:
		return levelInfo
	}
}

func (l logLevel) String() string {
	switch l {
	case levelDebug:
		return "DEBUG"
	case levelWarn:
		return "WARN"
	case levelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger is the production core.Logger: JSON lines in Kubernetes (for log
// aggregation), human-readable text locally. Thread-safe.
//
// Configuration priority:
//  1. Explicit LoggerConfig fields
//  2. Environment (MAESTRO_LOG_LEVEL, MAESTRO_LOG_FORMAT)
//  3. Auto-detection (KUBERNETES_SERVICE_HOST selects JSON)
type Logger struct {
	serviceName string
	level       logLevel
	format      string
	mu          sync.Mutex
	output      io.Writer

	// errorLimiter keeps a failing dependency from flooding the log stream.
	errorLimiter *RateLimiter
}

// LoggerConfig tunes NewLogger. Zero values fall back to the environment.
type LoggerConfig struct {
	ServiceName string
	Level       string
	Format      string // "json" or "text"
	Output      io.Writer
}

// NewLogger creates a structured logger.
func NewLogger(cfg LoggerConfig) *Logger {
	level := cfg.Level
	if level == "" {
		level = os.Getenv("MAESTRO_LOG_LEVEL")
	}
	format := cfg.Format
	if format == "" {
		format = os.Getenv("MAESTRO_LOG_FORMAT")
	}
	if format == "" {
		format = "text"
		if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
			format = "json"
		}
	}
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	return &Logger{
		serviceName:  cfg.ServiceName,
		level:        parseLevel(level),
		format:       format,
		output:       output,
		errorLimiter: NewRateLimiter(time.Second),
	}
}

func (l *Logger) Debug(msg string, fields map[string]interface{}) { l.log(levelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields map[string]interface{})  { l.log(levelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields map[string]interface{})  { l.log(levelWarn, msg, fields) }
// Error logs at ERROR level, rate-limited to one line per second.
func (l *Logger) Error(msg string, fields map[string]interface{}) {
	if l.errorLimiter != nil && !l.errorLimiter.Allow() {
		return
	}
	l.log(levelError, msg, fields)
}

func (l *Logger) log(level logLevel, msg string, fields map[string]interface{}) {
	if level < l.level {
		return
	}
	now := time.Now().UTC()

	var line []byte
	if l.format == "json" {
		entry := make(map[string]interface{}, len(fields)+4)
		for k, v := range fields {
			entry[k] = v
		}
		entry["timestamp"] = now.Format(time.RFC3339Nano)
		entry["level"] = level.String()
		entry["message"] = msg
		if l.serviceName != "" {
			entry["service"] = l.serviceName
		}
		var err error
		line, err = json.Marshal(entry)
		if err != nil {
			line = []byte(fmt.Sprintf(`{"timestamp":%q,"level":%q,"message":%q,"log_error":%q}`,
				now.Format(time.RFC3339Nano), level.String(), msg, err.Error()))
		}
		line = append(line, '\n')
	} else {
		var b strings.Builder
		fmt.Fprintf(&b, "%s [%s] %s", now.Format("2006-01-02T15:04:05.000Z"), level.String(), msg)
		for k, v := range fields {
			fmt.Fprintf(&b, " %s=%v", k, v)
		}
		b.WriteByte('\n')
		line = []byte(b.String())
	}

	l.mu.Lock()
	_, _ = l.output.Write(line)
	l.mu.Unlock()
}
