package results

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ColonelBlimp/apmetric/internal/algo"
	"github.com/ColonelBlimp/apmetric/internal/spike"
)

const (
	// SummaryFile holds amplitude, frequency and metric per buffer
	SummaryFile = "out.txt"
	// SpikeLogFile holds location and amplitude per detected spike
	SpikeLogFile = "ap_list.txt"
)

// ErrMalformedRow indicates a result file row with the wrong number of fields
var ErrMalformedRow = errors.New("malformed result row")

// Summary is the content of a summary file.
type Summary struct {
	Amplitude []float64
	Frequency []float64
	Metric    []float64
}

// FormatFloat renders v with 8 decimals. NaN is written as "nan" and
// infinities as "inf" / "-inf".
func FormatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	default:
		return strconv.FormatFloat(v, 'f', 8, 64)
	}
}

// ParseFloat reads a value written by FormatFloat. Any field containing
// "nan" reads as NaN.
func ParseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(strings.ToLower(s), "nan") {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// CSVSink writes <dir>/corrThresh<NN>/<subject>/{out.txt,ap_list.txt}.
type CSVSink struct {
	dir string
}

// NewCSVSink creates a sink rooted at dir
func NewCSVSink(dir string) *CSVSink {
	return &CSVSink{dir: dir}
}

// Init creates the output directory
func (s *CSVSink) Init(_ context.Context) error {
	if s.dir == "" {
		return errors.New("output directory is required")
	}
	return os.MkdirAll(s.dir, 0755)
}

// SubjectDir returns the directory holding the files of subject.
func (s *CSVSink) SubjectDir(run RunInfo, subject string) string {
	return filepath.Join(s.dir, fmt.Sprintf("corrThresh%d", int(math.Round(run.CorrelationThreshold*100))), subject)
}

// Write stores the summary and the spike log of res.
func (s *CSVSink) Write(ctx context.Context, run RunInfo, res *algo.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := s.SubjectDir(run, res.Subject)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create result dir: %w", err)
	}

	summary := Summary{Amplitude: res.Amplitude, Frequency: res.Frequency, Metric: res.Metric}
	if err := WriteSummary(filepath.Join(dir, SummaryFile), summary); err != nil {
		return err
	}
	return WriteSpikeLog(filepath.Join(dir, SpikeLogFile), res.Spikes)
}

// Close is a no-op
func (s *CSVSink) Close() error {
	return nil
}

// WriteSummary writes one "amplitude,frequency,metric" row per buffer.
func WriteSummary(path string, s Summary) error {
	n := len(s.Amplitude)
	if len(s.Frequency) != n || len(s.Metric) != n {
		return fmt.Errorf("summary columns differ in length: %d, %d, %d", n, len(s.Frequency), len(s.Metric))
	}

	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = []float64{s.Amplitude[i], s.Frequency[i], s.Metric[i]}
	}
	return writeRows(path, rows)
}

// WriteSpikeLog writes one "location,amplitude" row per spike.
func WriteSpikeLog(path string, events []spike.Event) error {
	rows := make([][]float64, len(events))
	for i, e := range events {
		rows[i] = []float64{float64(e.Location), e.Amplitude}
	}
	return writeRows(path, rows)
}

func writeRows(path string, rows [][]float64) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	record := make([]string, 0, 3)
	for _, row := range rows {
		record = record[:0]
		for _, v := range row {
			record = append(record, FormatFloat(v))
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}

// ReadSummary reads a summary file.
func ReadSummary(path string) (Summary, error) {
	rows, err := readRows(path, 3)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{
		Amplitude: make([]float64, len(rows)),
		Frequency: make([]float64, len(rows)),
		Metric:    make([]float64, len(rows)),
	}
	for i, row := range rows {
		s.Amplitude[i], s.Frequency[i], s.Metric[i] = row[0], row[1], row[2]
	}
	return s, nil
}

// ReadSpikeLog reads a spike log file.
func ReadSpikeLog(path string) ([]spike.Event, error) {
	rows, err := readRows(path, 2)
	if err != nil {
		return nil, err
	}

	events := make([]spike.Event, len(rows))
	for i, row := range rows {
		events[i] = spike.Event{Location: int(math.Round(row[0])), Amplitude: row[1]}
	}
	return events, nil
}

func readRows(path string, fields int) ([][]float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	var rows [][]float64
	for line := 1; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) < fields {
			return nil, fmt.Errorf("%s:%d: %w: got %d fields, want %d", path, line, ErrMalformedRow, len(record), fields)
		}

		row := make([]float64, fields)
		for j := 0; j < fields; j++ {
			if row[j], err = ParseFloat(record[j]); err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, line, err)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
