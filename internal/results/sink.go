// Package results exports subject results as text files or into SQLite, and
// reads the text files back for post-processing.
package results

import (
	"context"
	"fmt"
	"time"

	"github.com/ColonelBlimp/apmetric/internal/algo"
)

// Sink kinds (from config: sink)
const (
	SinkCSV    = "csv"
	SinkSQLite = "sqlite"
)

// RunInfo identifies one batch run.
type RunInfo struct {
	ID                   string
	Started              time.Time
	CorrelationThreshold float64
}

// Sink stores the result of each subject of a run. Write may be called
// concurrently for different subjects.
type Sink interface {
	Init(ctx context.Context) error
	Write(ctx context.Context, run RunInfo, res *algo.Result) error
	Close() error
}

// NewSink creates the sink selected by kind.
func NewSink(kind, outputDir, sqlitePath string) (Sink, error) {
	switch kind {
	case "", SinkCSV:
		return NewCSVSink(outputDir), nil
	case SinkSQLite:
		return NewSQLiteSink(sqlitePath), nil
	default:
		return nil, fmt.Errorf("unsupported result sink: %s", kind)
	}
}
