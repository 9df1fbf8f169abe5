// Package logging provides the default structured logger for argus-store.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a logger configured for terminal output. Components accept a
// *logrus.Logger in their configs and fall back to this when given nil.
func New() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	log.SetLevel(logrus.InfoLevel)
	return log
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	log.SetLevel(logrus.PanicLevel)
	return log
}
