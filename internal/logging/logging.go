// Package logging wraps logrus with the field set every component uses
// when reporting on a batch: currency, stage, height_range (SPEC_FULL.md
// AMBIENT STACK, adopted from orbas1-Synnergy's logrus usage since the
// teacher itself is silent on logging -- see DESIGN.md).
package logging

import (
	"strconv"

	"github.com/sirupsen/logrus"
)

// New returns a logrus.Logger configured for the given level name
// ("debug"|"info"|"warn"|"error"), falling back to info on an
// unrecognised value.
func New(level string) *logrus.Logger {
	l := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// Batch returns the per-batch field set shared by every stage log line.
func Batch(log *logrus.Logger, currency string, fromHeight, toHeight int64) *logrus.Entry {
	return log.WithFields(logrus.Fields{
		"currency":     currency,
		"height_range": rangeLabel(fromHeight, toHeight),
	})
}

// Stage returns entry annotated with the active coordinator stage
// (spec.md §4.8 state machine: PLANNING, PROJECTING, AGGREGATING,
// WRITING, STATUS_UPDATE).
func Stage(entry *logrus.Entry, stage string) *logrus.Entry {
	return entry.WithField("stage", stage)
}

func rangeLabel(from, to int64) string {
	if from == to {
		return strconv.FormatInt(from, 10)
	}
	return strconv.FormatInt(from, 10) + "-" + strconv.FormatInt(to, 10)
}
