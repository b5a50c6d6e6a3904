package logging

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/weaveworks/promrus"
)

const RFC3339Milli = "2006-01-02T15:04:05.000Z07:00"

// MustConfigureApplicationLogging sets up logging suitable for an application.
// Note that this function will immediately shut down the application if it fails.
func MustConfigureApplicationLogging(config Config) {
	err := ConfigureApplicationLogging(config)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error initializing logging: "+err.Error())
		os.Exit(1)
	}
}

// ConfigureApplicationLogging configures the standard logrus logger from the supplied config and
// registers a hook exporting the number of log lines per level to Prometheus.
func ConfigureApplicationLogging(config Config) error {
	if err := config.validate(); err != nil {
		return err
	}
	level, _ := parseLogLevel(config.Level)
	log.SetLevel(level)
	log.SetOutput(os.Stdout)
	log.SetFormatter(formatterFor(config.Format))
	log.AddHook(promrus.MustNewPrometheusHook())
	return nil
}

// ConfigureCommandLineLogging sets up logging for short-lived command line tools
func ConfigureCommandLineLogging() {
	log.SetFormatter(&PlainFormatter{})
	log.SetOutput(os.Stdout)
}

func formatterFor(format LogFormat) log.Formatter {
	switch format {
	case FormatJSON:
		return &log.JSONFormatter{TimestampFormat: RFC3339Milli}
	case FormatColourful:
		return &log.TextFormatter{ForceColors: true, FullTimestamp: true, TimestampFormat: RFC3339Milli}
	default:
		return &log.TextFormatter{DisableColors: true, FullTimestamp: true, TimestampFormat: RFC3339Milli}
	}
}
