package metrics

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
)

// persistSink appends finalized metrics to a newline-delimited JSON file,
// one record per line. Consumed only by offline tooling; writes are
// best-effort and never fail a query.
type persistSink struct {
	mu     sync.Mutex
	path   string
	f      *os.File
	enc    *json.Encoder
	logger *slog.Logger
}

func newPersistSink(path string, logger *slog.Logger) *persistSink {
	return &persistSink{path: path, logger: logger}
}

// load reads previously persisted metrics, oldest first. Unreadable lines
// are skipped.
func (s *persistSink) load() []*Metric {
	f, err := os.Open(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("metrics persistence load failed", "path", s.path, "error", err)
		}
		return nil
	}
	defer f.Close() //nolint:errcheck

	var out []*Metric
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var m Metric
		if err := json.Unmarshal(line, &m); err != nil {
			s.logger.Warn("skipping unreadable metrics record", "path", s.path, "error", err)
			continue
		}
		out = append(out, &m)
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("metrics persistence load truncated", "path", s.path, "error", err)
	}
	return out
}

func (s *persistSink) write(m *Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			s.logger.Warn("metrics persistence open failed", "path", s.path, "error", err)
			return
		}
		s.f = f
		s.enc = json.NewEncoder(f)
	}
	if err := s.enc.Encode(m); err != nil {
		s.logger.Warn("metrics persistence write failed", "path", s.path, "error", err)
	}
}

func (s *persistSink) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	s.enc = nil
	return err
}
