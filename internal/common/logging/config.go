package logging

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type LogFormat string

const (
	FormatText      LogFormat = "text"
	FormatColourful LogFormat = "colourful"
	FormatJSON      LogFormat = "json"
)

var validLogFormats = map[LogFormat]bool{
	FormatText:      true,
	FormatColourful: true,
	FormatJSON:      true,
}

// Config defines logging configuration for console logging on stdout
type Config struct {
	// Log level, e.g. info, error etc
	Level string
	// Logging format, one of text, colourful or json
	Format LogFormat
}

func (c Config) validate() error {
	if _, err := parseLogLevel(c.Level); err != nil {
		return err
	}
	if _, ok := validLogFormats[c.Format]; !ok {
		formats := maps.Keys(validLogFormats)
		slices.Sort(formats)
		return errors.Errorf("unknown log format: %s.  Valid formats are %s", c.Format, formats)
	}
	return nil
}

func parseLogLevel(level string) (logrus.Level, error) {
	parsed, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return logrus.InfoLevel, errors.Errorf("unknown level: %s", level)
	}
	return parsed, nil
}
