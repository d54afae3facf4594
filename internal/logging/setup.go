package logging

import (
	"strings"

	log "github.com/sirupsen/logrus"
)

// Configure sets the process-wide logrus level from a string such as
// "debug", "info", "warn", "error"; unrecognised values fall back to info.
func Configure(level string) {
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}
