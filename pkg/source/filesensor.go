package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/nxadm/tail"
	"github.com/sirupsen/logrus"

	"github.com/navshield/sentineltrace/internal/metrics"
)

// wireRecord is the newline-delimited JSON shape a record log written by the
// host sensor is expected to use: one object per line, matching RawRecord's
// fields. Unexported; FileSensor is the only reader of this format.
type wireRecord struct {
	Host         string            `json:"host"`
	RecordID     int64             `json:"record_id"`
	KindCode     int               `json:"kind_code"`
	EventTimeUTC int64             `json:"event_time_utc"`
	Sequence     int64             `json:"sequence"`
	Fields       map[string]string `json:"fields"`
}

// FileSensor implements Sensor by tailing a newline-delimited JSON record
// log, following rotations and delivering new lines as they are appended.
// It is the concrete sensor this repository ships: the kernel-backed
// telemetry stream itself is an external collaborator, but
// whatever bridges that stream to disk is expected to append records in
// this format, and FileSensor is how the adapter consumes it. Tails with
// follow and reopen enabled, no polling; a single file with no worker pool
// since each line here is cheap header/field parsing rather than
// dispatcher fan-out.
type FileSensor struct {
	path    string
	seekEnd bool
	logger  *logrus.Logger

	mu  sync.Mutex
	t   *tail.Tail
	out chan RawRecord
}

// NewFileSensor builds a FileSensor over path. seekEnd controls whether the
// tailer starts at the file's current end (live-only) or its beginning
// (replays everything already on disk); production wiring uses seekEnd,
// replay/test wiring does not.
func NewFileSensor(path string, seekEnd bool, logger *logrus.Logger) *FileSensor {
	return &FileSensor{path: path, seekEnd: seekEnd, logger: logger}
}

func (f *FileSensor) Subscribe(ctx context.Context) (<-chan RawRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	whence := io.SeekStart
	if f.seekEnd {
		whence = io.SeekEnd
	}

	t, err := tail.TailFile(f.path, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Poll:     false,
		Location: &tail.SeekInfo{Offset: 0, Whence: whence},
		Logger:   tail.DiscardingLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("source: tail %s: %w", f.path, err)
	}

	f.t = t
	f.out = make(chan RawRecord, 256)

	go f.run(ctx)

	f.logger.WithFields(logrus.Fields{
		"component": "file_sensor",
		"path":      f.path,
		"seek_end":  f.seekEnd,
	}).Info("file sensor subscribed")

	return f.out, nil
}

func (f *FileSensor) run(ctx context.Context) {
	defer close(f.out)
	defer f.t.Cleanup()

	for {
		select {
		case <-ctx.Done():
			if err := f.t.Stop(); err != nil {
				f.logger.WithError(err).Warn("file sensor: error stopping tailer")
			}
			return

		case line, ok := <-f.t.Lines:
			if !ok {
				if err := f.t.Err(); err != nil {
					f.logger.WithError(err).Warn("file sensor: tailer ended with error")
				}
				return
			}
			if line.Err != nil {
				f.logger.WithError(line.Err).Warn("file sensor: line read error")
				continue
			}
			if line.Text == "" {
				continue
			}

			metrics.SensorLinesReadTotal.WithLabelValues(f.path).Inc()

			raw, err := decodeLine(line.Text)
			if err != nil {
				metrics.SensorParseErrorsTotal.WithLabelValues(f.path).Inc()
				f.logger.WithError(err).WithField("path", f.path).Warn("file sensor: dropping undecodable line")
				continue
			}

			select {
			case f.out <- raw:
			case <-ctx.Done():
				return
			}
		}
	}
}

func decodeLine(line string) (RawRecord, error) {
	var w wireRecord
	if err := json.Unmarshal([]byte(line), &w); err != nil {
		return RawRecord{}, err
	}
	return RawRecord{
		Host:         w.Host,
		RecordID:     w.RecordID,
		KindCode:     w.KindCode,
		EventTimeUTC: w.EventTimeUTC,
		Sequence:     w.Sequence,
		Fields:       w.Fields,
		Raw:          []byte(line),
	}, nil
}

// Close stops the tailer if Subscribe was never canceled by its context.
func (f *FileSensor) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.t == nil {
		return nil
	}
	return f.t.Stop()
}
