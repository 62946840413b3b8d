package log

import (
	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

var _ badger.Logger = (*BadgerLogrusAdapter)(nil)

// BadgerLogrusAdapter routes badger's internal logging into logrus.
// Badger reports table loading and compaction progress at info level; those lines are
// demoted to debug so a normal sync log only shows notice activity.
type BadgerLogrusAdapter struct {
	entry *logrus.Entry
}

// NewBadgerLogrusAdapter creates a new adapter
func NewBadgerLogrusAdapter(entry *logrus.Entry) *BadgerLogrusAdapter {
	return &BadgerLogrusAdapter{entry: entry.WithField("source", "badger")}
}

func (l *BadgerLogrusAdapter) Errorf(f string, v ...interface{})   { l.entry.Errorf(f, v...) }
func (l *BadgerLogrusAdapter) Warningf(f string, v ...interface{}) { l.entry.Warnf(f, v...) }
func (l *BadgerLogrusAdapter) Infof(f string, v ...interface{})    { l.entry.Debugf(f, v...) }
func (l *BadgerLogrusAdapter) Debugf(f string, v ...interface{})   { l.entry.Tracef(f, v...) }
