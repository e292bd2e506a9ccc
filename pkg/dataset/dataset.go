// Package dataset loads the two study-level summary tables the trait
// graph is built from: per-study SNP-heritability estimates and
// per-study-pair genetic correlations. Tables are read from disk
// exactly once and kept in memory; the package never touches the
// network and never writes anything back.
package dataset

import (
	"context"
	"fmt"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/phenoproxy/traitgraph/pkg/common"
	"github.com/phenoproxy/traitgraph/pkg/logger"
)

// DataLoadError reports that one of the input tables could not be
// loaded at all: the file is unreadable, the header row is missing,
// or a required column is absent. Row-level problems never produce a
// DataLoadError; bad rows are skipped and counted instead.
type DataLoadError struct {
	Path   string
	Reason string
	Err    error
}

func (e *DataLoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to load %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("failed to load %s: %s", e.Path, e.Reason)
}

func (e *DataLoadError) Unwrap() error {
	return e.Err
}

// Params configures a Loader with the table locations. Paths ending
// in .gz are decompressed transparently; comma and tab delimited
// files are both accepted.
type Params struct {
	HeritabilityPath string
	CorrelationPath  string
}

// Stats counts the rows each table contributed and the rows that were
// dropped by the row-level tolerance rules.
type Stats struct {
	HeritabilityRows    int `json:"heritability_rows"`
	HeritabilitySkipped int `json:"heritability_skipped"`
	CorrelationRows     int `json:"correlation_rows"`
	CorrelationSkipped  int `json:"correlation_skipped"`
}

// Loader reads both tables exactly once. The first EnsureLoaded call
// does the work; every later call, from any goroutine, observes the
// same outcome including a failure. A failed load is never retried.
type Loader struct {
	params Params

	once sync.Once
	err  error

	snapshotID   string
	heritability []common.StudyHeritability
	correlations []common.StudyCorrelation
	byStudy      map[int64]*common.StudyHeritability
	stats        Stats
}

// New creates a Loader. Nothing is read until EnsureLoaded.
func New(params Params) *Loader {
	return &Loader{params: params}
}

// EnsureLoaded loads both tables on the first call and memoizes the
// outcome. Concurrent callers block until the one load finishes.
func (l *Loader) EnsureLoaded(ctx context.Context) error {
	l.once.Do(func() {
		l.err = l.load(ctx)
	})
	return l.err
}

func (l *Loader) load(ctx context.Context) error {
	heritability, hSkipped, err := readHeritabilityTable(l.params.HeritabilityPath)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	correlations, cSkipped, err := readCorrelationTable(l.params.CorrelationPath)
	if err != nil {
		return err
	}

	byStudy := make(map[int64]*common.StudyHeritability, len(heritability))
	for i := range heritability {
		byStudy[heritability[i].StudyID] = &heritability[i]
	}

	snapshotID, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("failed to create snapshot id: %w", err)
	}

	l.snapshotID = snapshotID
	l.heritability = heritability
	l.correlations = correlations
	l.byStudy = byStudy
	l.stats = Stats{
		HeritabilityRows:    len(heritability),
		HeritabilitySkipped: hSkipped,
		CorrelationRows:     len(correlations),
		CorrelationSkipped:  cSkipped,
	}

	logger.Info("[Dataset] Loaded heritability table",
		"path", l.params.HeritabilityPath,
		"rows", len(heritability),
		"skipped", hSkipped,
	)
	logger.Info("[Dataset] Loaded correlation table",
		"path", l.params.CorrelationPath,
		"rows", len(correlations),
		"skipped", cSkipped,
	)
	logger.Debug("[Dataset] Snapshot ready", "snapshot", snapshotID)

	return nil
}

// Heritability returns every loaded heritability record in input
// order. The slice is shared and must not be modified. Only valid
// after a successful EnsureLoaded.
func (l *Loader) Heritability() []common.StudyHeritability {
	return l.heritability
}

// Correlations returns every loaded correlation record in input
// order. The slice is shared and must not be modified. Only valid
// after a successful EnsureLoaded.
func (l *Loader) Correlations() []common.StudyCorrelation {
	return l.correlations
}

// HeritabilityByStudy looks up the heritability record for a study
// id. Only valid after a successful EnsureLoaded.
func (l *Loader) HeritabilityByStudy(id int64) (*common.StudyHeritability, bool) {
	record, ok := l.byStudy[id]
	return record, ok
}

// SnapshotID identifies this loaded dataset. It is assigned once at
// load time so results can be tied to the data they came from.
func (l *Loader) SnapshotID() string {
	return l.snapshotID
}

// Stats returns the row counts recorded during the load.
func (l *Loader) Stats() Stats {
	return l.stats
}
