package logging

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

// SourceField is the logrus field naming the component that emitted an entry
const SourceField = "source"

// Config controls how the process-wide logger is set up
type Config struct {
	Level   string
	JSON    bool
	Sources string // comma separated source filters, "!" negates
	Output  io.Writer
}

// Setup configures the standard logrus logger. It is called once by the
// process entry point; the source filters are compiled here and never
// re-read afterwards.
func Setup(cfg Config) error {
	level := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	filters, err := ParseSourceFilters(cfg.Sources)
	if err != nil {
		return err
	}

	var formatter logrus.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	if cfg.JSON {
		formatter = &logrus.JSONFormatter{}
	}

	logrus.SetLevel(level)
	logrus.SetFormatter(NewSourceFilterFormatter(formatter, filters))
	if cfg.Output != nil {
		logrus.SetOutput(cfg.Output)
	}
	return nil
}

// Source returns a logger entry tagged with the given component name
func Source(name string) *logrus.Entry {
	return logrus.WithField(SourceField, name)
}

// SourceFilter is a single compiled entry of the source filter list
type SourceFilter struct {
	pattern *regexp.Regexp
	negated bool
}

// Allows reports whether source passes this filter
func (f SourceFilter) Allows(source string) bool {
	return f.pattern.MatchString(source) != f.negated
}

// ParseSourceFilters compiles a comma separated list of source patterns.
// Patterns are anchored at the start of the source name. A leading "!"
// turns the pattern into an exclusion, e.g. "Router,!Store.*".
func ParseSourceFilters(spec string) ([]SourceFilter, error) {
	var filters []SourceFilter
	for _, raw := range strings.Split(spec, ",") {
		tag := strings.TrimSpace(raw)
		if tag == "" {
			continue
		}

		negated := strings.HasPrefix(tag, "!")
		tag = strings.TrimPrefix(tag, "!")

		pattern, err := regexp.Compile("^" + tag)
		if err != nil {
			return nil, fmt.Errorf("invalid log source filter %q: %w", raw, err)
		}
		filters = append(filters, SourceFilter{pattern: pattern, negated: negated})
	}
	return filters, nil
}

// IsSourceAllowed reports whether entries from source should be written.
// Entries without a source are always allowed.
func IsSourceAllowed(source string, filters []SourceFilter) bool {
	if source == "" {
		return true
	}
	for _, f := range filters {
		if !f.Allows(source) {
			return false
		}
	}
	return true
}

// SourceFilterFormatter wraps a formatter and drops entries whose source is
// rejected by the configured filters.
type SourceFilterFormatter struct {
	next    logrus.Formatter
	filters []SourceFilter
}

// NewSourceFilterFormatter creates a SourceFilterFormatter
func NewSourceFilterFormatter(next logrus.Formatter, filters []SourceFilter) *SourceFilterFormatter {
	return &SourceFilterFormatter{next: next, filters: filters}
}

// Format implements logrus.Formatter
func (f *SourceFilterFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	source, _ := entry.Data[SourceField].(string)
	if !IsSourceAllowed(source, f.filters) {
		return nil, nil
	}
	return f.next.Format(entry)
}
