// Package monitor watches the shared frame queue from the consumer side.
package monitor

import (
	"time"

	"github.com/artemshal/DungeonCompanion/internal/shmqueue"
)

// Sample is one observation of the segment
type Sample struct {
	At         time.Time
	Connected  bool
	Err        string
	Header     shmqueue.HeaderSnapshot
	Timestamps [shmqueue.SlotCount]uint64
}

// Watcher keeps the segment mapped between samples and remaps it when the
// writer stops or changes geometry
type Watcher struct {
	opts   []shmqueue.Option
	reader *shmqueue.Reader
	open   func(opts ...shmqueue.Option) (*shmqueue.Reader, error)
}

// NewWatcher follows the segment selected by opts
func NewWatcher(opts ...shmqueue.Option) *Watcher {
	return &Watcher{opts: opts, open: shmqueue.Open}
}

// Sample reads the header and slot timestamps
func (w *Watcher) Sample() Sample {
	s := Sample{At: time.Now()}

	// A segment taken over by another writer is mapped afresh before any
	// slot is read.
	if w.reader != nil && w.reader.Replaced() {
		w.Close()
	}
	if w.reader == nil {
		r, err := w.open(w.opts...)
		if err != nil {
			s.Err = err.Error()
			return s
		}
		w.reader = r
	}

	s.Connected = true
	s.Header = w.reader.Header()
	l := w.reader.Layout()
	if s.Header.Width != l.Width || s.Header.Height != l.Height {
		w.Close()
		return s
	}
	for i := range s.Timestamps {
		s.Timestamps[i] = w.reader.SlotTimestamp(i)
	}

	// A stopped writer may recreate the segment at another size, so the next
	// sample maps it afresh.
	if s.Header.State == shmqueue.StateStopping {
		w.Close()
	}
	return s
}

// Close unmaps the segment
func (w *Watcher) Close() error {
	if w.reader == nil {
		return nil
	}
	err := w.reader.Close()
	w.reader = nil
	return err
}
