package results

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ColonelBlimp/apmetric/internal/algo"
	"github.com/ColonelBlimp/apmetric/internal/metric"
	"github.com/ColonelBlimp/apmetric/internal/phase"
	"github.com/ColonelBlimp/apmetric/internal/spike"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestResult() *algo.Result {
	nan := math.NaN()
	return &algo.Result{
		Subject: "P3",
		Series: metric.Series{
			Amplitude:      []float64{nan, 1.5, 2.25, 3},
			Frequency:      []float64{0, 4, 6, 2},
			AmplitudeSlope: []float64{nan, nan, 1.1, 0.9},
			FrequencySlope: []float64{nan, nan, 1.2, 0.8},
			Metric:         []float64{nan, nan, nan, 12.345678901},
		},
		Phases:        []phase.Phase{phase.Learning, phase.Filling, phase.Baseline, phase.Tracking},
		Spikes:        []spike.Event{{Location: 10200, Amplitude: 0.12345678}, {Location: 30500, Amplitude: 2}},
		Processed:     4,
		Complete:      true,
		Templates:     7,
		CurationIndex: 0,
		Baseline:      &metric.Baseline{AmplitudeStd: 0.1, FrequencyStd: nan},
	}
}

func createTestRun() RunInfo {
	return RunInfo{
		ID:                   "6f1c2a4e-0b7d-4c55-9a57-3b1d2f0e9c11",
		Started:              time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
		CorrelationThreshold: 0.75,
	}
}

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0.00000000"},
		{1.5, "1.50000000"},
		{-0.123456789, "-0.12345679"},
		{102000, "102000.00000000"},
		{math.NaN(), "nan"},
		{math.Inf(1), "inf"},
		{math.Inf(-1), "-inf"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatFloat(tt.in))
		})
	}
}

func TestParseFloat(t *testing.T) {
	for _, s := range []string{"nan", "-nan", " NaN"} {
		v, err := ParseFloat(s)
		require.NoError(t, err)
		assert.True(t, math.IsNaN(v), s)
	}

	v, err := ParseFloat("inf")
	require.NoError(t, err)
	assert.True(t, math.IsInf(v, 1))

	v, err = ParseFloat("3.25000000")
	require.NoError(t, err)
	assert.Equal(t, 3.25, v)

	_, err = ParseFloat("abc")
	assert.Error(t, err)
}

func TestCSVSink_WriteAndRead(t *testing.T) {
	dir := t.TempDir()
	sink := NewCSVSink(dir)
	require.NoError(t, sink.Init(context.Background()))

	run := createTestRun()
	res := createTestResult()
	require.NoError(t, sink.Write(context.Background(), run, res))

	subjectDir := sink.SubjectDir(run, res.Subject)
	assert.Equal(t, filepath.Join(dir, "corrThresh75", "P3"), subjectDir)

	data, err := os.ReadFile(filepath.Join(subjectDir, SummaryFile))
	require.NoError(t, err)
	assert.Equal(t,
		"nan,0.00000000,nan\n"+
			"1.50000000,4.00000000,nan\n"+
			"2.25000000,6.00000000,nan\n"+
			"3.00000000,2.00000000,12.34567890\n",
		string(data))

	data, err = os.ReadFile(filepath.Join(subjectDir, SpikeLogFile))
	require.NoError(t, err)
	assert.Equal(t, "10200.00000000,0.12345678\n30500.00000000,2.00000000\n", string(data))

	summary, err := ReadSummary(filepath.Join(subjectDir, SummaryFile))
	require.NoError(t, err)
	want := Summary{Amplitude: res.Amplitude, Frequency: res.Frequency, Metric: []float64{math.NaN(), math.NaN(), math.NaN(), 12.3456789}}
	if diff := cmp.Diff(want, summary, cmpopts.EquateNaNs(), cmpopts.EquateApprox(0, 1e-8)); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}

	events, err := ReadSpikeLog(filepath.Join(subjectDir, SpikeLogFile))
	require.NoError(t, err)
	if diff := cmp.Diff(res.Spikes, events); diff != "" {
		t.Errorf("spike log mismatch (-want +got):\n%s", diff)
	}
}

func TestCSVSink_SubjectDir(t *testing.T) {
	sink := NewCSVSink("out")

	tests := []struct {
		threshold float64
		want      string
	}{
		{0.29, "corrThresh29"},
		{0.56, "corrThresh56"},
		{0.57, "corrThresh57"},
		{0.58, "corrThresh58"},
		{0.75, "corrThresh75"},
		{1, "corrThresh100"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := sink.SubjectDir(RunInfo{CorrelationThreshold: tt.threshold}, "P1")
			assert.Equal(t, filepath.Join("out", tt.want, "P1"), got)
		})
	}
}

func TestCSVSink_EmptySpikeLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, SpikeLogFile)
	require.NoError(t, WriteSpikeLog(path, nil))

	events, err := ReadSpikeLog(path)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestReadSummary_Errors(t *testing.T) {
	dir := t.TempDir()

	short := filepath.Join(dir, "short.txt")
	require.NoError(t, os.WriteFile(short, []byte("1.0,2.0\n"), 0644))
	_, err := ReadSummary(short)
	assert.ErrorIs(t, err, ErrMalformedRow)

	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte("1.0,x,3.0\n"), 0644))
	_, err = ReadSummary(bad)
	assert.Error(t, err)

	_, err = ReadSummary(filepath.Join(dir, "missing.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteSummary_ColumnMismatch(t *testing.T) {
	err := WriteSummary(filepath.Join(t.TempDir(), SummaryFile), Summary{Amplitude: []float64{1}, Frequency: nil, Metric: nil})
	assert.Error(t, err)
}

func TestSQLiteSink_RoundTrip(t *testing.T) {
	ctx := context.Background()
	sink := NewSQLiteSink(filepath.Join(t.TempDir(), "apmetric.db"))
	require.NoError(t, sink.Init(ctx))
	t.Cleanup(func() {
		_ = sink.Close()
	})

	run := createTestRun()
	res := createTestResult()
	require.NoError(t, sink.Write(ctx, run, res))
	// Writing the same subject again replaces its rows
	require.NoError(t, sink.Write(ctx, run, res))

	summary, phases, err := sink.LoadSummary(ctx, run.ID, res.Subject)
	require.NoError(t, err)
	want := Summary{Amplitude: res.Amplitude, Frequency: res.Frequency, Metric: res.Metric}
	if diff := cmp.Diff(want, summary, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, res.Phases, phases)

	events, err := sink.LoadSpikes(ctx, run.ID, res.Subject)
	require.NoError(t, err)
	if diff := cmp.Diff(res.Spikes, events); diff != "" {
		t.Errorf("spikes mismatch (-want +got):\n%s", diff)
	}

	var ampStd, freqStd *float64
	err = sink.db.QueryRowContext(ctx, `SELECT amplitude_std, frequency_std FROM subjects WHERE run_id = ? AND subject = ?`,
		run.ID, res.Subject).Scan(&ampStd, &freqStd)
	require.NoError(t, err)
	require.NotNil(t, ampStd)
	assert.Equal(t, 0.1, *ampStd)
	assert.Nil(t, freqStd, "NaN must be stored as NULL")
}

func TestSQLiteSink_NotInitialized(t *testing.T) {
	sink := NewSQLiteSink(filepath.Join(t.TempDir(), "x.db"))
	assert.Error(t, sink.Write(context.Background(), createTestRun(), createTestResult()))
	_, _, err := sink.LoadSummary(context.Background(), "id", "P1")
	assert.Error(t, err)
	assert.NoError(t, sink.Close())

	assert.Error(t, NewSQLiteSink("").Init(context.Background()))
}

func TestNewSink(t *testing.T) {
	s, err := NewSink(SinkCSV, t.TempDir(), "")
	require.NoError(t, err)
	assert.IsType(t, &CSVSink{}, s)

	s, err = NewSink(SinkSQLite, "", "x.db")
	require.NoError(t, err)
	assert.IsType(t, &SQLiteSink{}, s)

	_, err = NewSink("parquet", "", "")
	assert.Error(t, err)
}
