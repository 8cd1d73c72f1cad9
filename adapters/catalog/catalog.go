// Package catalog loads the candidate-plan catalog from a delimited file
// and keeps it fresh with hot reload.
//
// The file format is CSV with a header row and the columns
// name,description,quota,overage,price. A quota of "unlimited" maps to
// +Inf.
package catalog

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/planwise/planwise/adapters/metrics"
	"github.com/planwise/planwise/domain/plan"
)

const columns = 5

// Load reads a plan catalog from a CSV file. Every plan is validated;
// a single bad row rejects the whole file so a half-loaded catalog can
// never be served.
func Load(path string) ([]plan.Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = columns
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("catalog: %s has no plan rows", path)
	}

	plans := make([]plan.Plan, 0, len(rows)-1)
	for i, row := range rows[1:] { // skip header
		p, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("catalog: %s row %d: %w", path, i+2, err)
		}
		plans = append(plans, p)
	}
	return plans, nil
}

func parseRow(row []string) (plan.Plan, error) {
	p := plan.Plan{
		Name:        strings.TrimSpace(row[0]),
		Description: strings.TrimSpace(row[1]),
	}
	if p.Name == "" {
		return plan.Plan{}, fmt.Errorf("empty plan name")
	}

	quota := strings.TrimSpace(row[2])
	if strings.EqualFold(quota, "unlimited") {
		p.Quota = math.Inf(1)
	} else {
		v, err := strconv.ParseFloat(quota, 64)
		if err != nil {
			return plan.Plan{}, fmt.Errorf("quota %q: %w", quota, err)
		}
		p.Quota = v
	}

	overage, err := strconv.ParseFloat(strings.TrimSpace(row[3]), 64)
	if err != nil {
		return plan.Plan{}, fmt.Errorf("overage %q: %w", row[3], err)
	}
	p.OverageRate = overage

	price, err := strconv.ParseFloat(strings.TrimSpace(row[4]), 64)
	if err != nil {
		return plan.Plan{}, fmt.Errorf("price %q: %w", row[4], err)
	}
	p.Price = price

	return p, p.Validate()
}

// Store provides thread-safe access to the catalog with hot reload.
// A failed reload keeps the last good snapshot.
type Store struct {
	mu      sync.RWMutex
	plans   []plan.Plan
	path    string
	logger  zerolog.Logger
	metrics *metrics.Collector
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// NewStore creates a catalog store and loads the initial catalog.
// metrics may be nil.
func NewStore(path string, logger zerolog.Logger, m *metrics.Collector) (*Store, error) {
	plans, err := Load(path)
	if err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: absolute path: %w", err)
	}

	s := &Store{
		plans:   plans,
		path:    absPath,
		logger:  logger,
		metrics: m,
		stopCh:  make(chan struct{}),
	}
	s.observeSize()
	logger.Info().Str("path", absPath).Int("plans", len(plans)).Msg("plan catalog loaded")
	return s, nil
}

// Plans returns the current catalog snapshot. Callers must not mutate it.
func (s *Store) Plans() []plan.Plan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.plans
}

// Reload re-reads the catalog from disk, keeping the old snapshot on error.
func (s *Store) Reload() error {
	plans, err := Load(s.path)
	if err != nil {
		if s.metrics != nil {
			s.metrics.CatalogReloadErrors.Inc()
		}
		s.logger.Error().Err(err).Msg("catalog reload failed, keeping previous catalog")
		return err
	}

	s.mu.Lock()
	s.plans = plans
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.CatalogReloads.Inc()
	}
	s.observeSize()
	s.logger.Info().Int("plans", len(plans)).Msg("plan catalog reloaded")
	return nil
}

// Watch starts watching the catalog file for changes.
func (s *Store) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("catalog: create watcher: %w", err)
	}
	s.watcher = watcher

	// Watch the directory; editors doing atomic saves replace the file.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("catalog: watch directory: %w", err)
	}

	go s.watchLoop()
	s.logger.Info().Str("path", s.path).Msg("watching plan catalog for changes")
	return nil
}

// Stop stops the file watcher.
func (s *Store) Stop() {
	close(s.stopCh)
	if s.watcher != nil {
		s.watcher.Close()
	}
}

func (s *Store) watchLoop() {
	filename := filepath.Base(s.path)
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				s.logger.Debug().Str("event", event.Op.String()).Msg("catalog file changed")
				if err := s.Reload(); err != nil {
					s.logger.Error().Err(err).Msg("catalog watch reload failed")
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error().Err(err).Msg("catalog watcher error")
		case <-s.stopCh:
			return
		}
	}
}

func (s *Store) observeSize() {
	if s.metrics != nil {
		s.metrics.CatalogPlans.Set(float64(len(s.Plans())))
	}
}
