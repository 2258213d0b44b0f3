package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/listings-etl/internal/config"
	"github.com/listings-etl/internal/dataset"
	"github.com/listings-etl/internal/etlerr"
	"github.com/listings-etl/internal/resolve"
)

var header = []string{"id", "street", "price", "description"}

func writeCSV(t *testing.T, path string, rows [][]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := csv.NewWriter(f)
	require.NoError(t, w.Write(header))
	require.NoError(t, w.WriteAll(rows))
}

func testConfig(dir string) *config.Config {
	cfg := config.Default()
	cfg.IDField = "id"
	cfg.Schema.Types = map[string]string{"street": "address", "price": "number", "description": "text"}
	cfg.Dedupe.KeyFields = []string{"street"}
	cfg.Similarity.Threshold = 0.9
	cfg.Similarity.Groups = []config.GroupConfig{
		{Name: "address", Kind: config.KindAddress, Columns: []string{"street"}, Weight: 1},
		{Name: "description", Kind: config.KindText, Columns: []string{"description"}, Weight: 1},
	}
	cfg.Similarity.GuardFields = nil
	cfg.RejectsPath = filepath.Join(dir, "rejects.csv")
	cfg.ReportPath = filepath.Join(dir, "report.json")
	return cfg
}

func readReport(t *testing.T, path string) Report {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var report Report
	require.NoError(t, json.Unmarshal(data, &report))
	return report
}

func column(t *testing.T, path, name string) []string {
	t.Helper()
	ds, err := dataset.Read(path)
	require.NoError(t, err)
	idx, ok := ds.Schema.Index(name)
	require.True(t, ok, name)
	out := make([]string, ds.Len())
	for i, rec := range ds.Records {
		out[i] = rec.At(idx).Text()
	}
	return out
}

func TestRunFiveRecordScenario(t *testing.T) {
	dir := t.TempDir()
	input, output := filepath.Join(dir, "in.csv"), filepath.Join(dir, "out.csv")
	writeCSV(t, input, [][]string{
		{"L-1", "1 Mill Lane", "100", "cosy studio"},
		{"L-2", "22 Baker Street", "200", "bright flat"},
		{"L-3", "5 Station Road", "300", "garden house"},
		{"L-4", "22 Baker Street", "250", "bright flat"},
		{"L-5", "9 Church Road", "400", "loft"},
	})

	summary, err := NewDriver(zaptest.NewLogger(t)).Run(context.Background(), input, output, testConfig(dir))
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Input)
	assert.Equal(t, 1, summary.ExactDuplicatesRemoved)
	assert.Equal(t, 0, summary.NearDuplicatesRemoved)
	assert.Equal(t, 0, summary.Rejected)
	assert.Equal(t, 4, summary.Output)
	assert.NotEmpty(t, summary.RunID)

	assert.Equal(t, []string{"L-1", "L-2", "L-3", "L-5"}, column(t, output, "id"))

	report := readReport(t, filepath.Join(dir, "report.json"))
	require.Len(t, report.Clusters, 1)
	entry := report.Clusters[0]
	assert.Equal(t, "exact", entry.Reason)
	assert.Equal(t, "L-2", entry.SurvivorID)
	assert.Equal(t, []string{"L-4"}, entry.DiscardedIDs)
	assert.Equal(t, 1, entry.SurvivorOrdinal)
	assert.Equal(t, []int{3}, entry.DiscardedOrdinals)
	assert.Nil(t, entry.Score)
	assert.Equal(t, summary.Stats, report.Stats)
}

func TestRunFormattingVariantsAreExactDuplicates(t *testing.T) {
	dir := t.TempDir()
	input, output := filepath.Join(dir, "in.csv"), filepath.Join(dir, "out.csv")
	writeCSV(t, input, [][]string{
		{"L-1", "123 Main St, Apt 4", "100", "one"},
		{"L-2", "123 main st apt 4", "100", "two"},
	})

	summary, err := NewDriver(zaptest.NewLogger(t)).Run(context.Background(), input, output, testConfig(dir))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ExactDuplicatesRemoved)
	assert.Equal(t, 1, summary.Output)
}

func TestRunRoutesMalformedRecordsToRejects(t *testing.T) {
	dir := t.TempDir()
	input, output := filepath.Join(dir, "in.csv"), filepath.Join(dir, "out.csv")
	writeCSV(t, input, [][]string{
		{"L-1", "1 Mill Lane", "100", "studio"},
		{"L-2", "1 Mill Lane", "price on request", "studio"},
		{"L-3", "7 Dock Road", "€1.250,00", "loft"},
	})

	summary, err := NewDriver(zaptest.NewLogger(t)).Run(context.Background(), input, output, testConfig(dir))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Rejected)
	assert.Equal(t, 0, summary.ExactDuplicatesRemoved, "a rejected record takes no part in deduplication")
	assert.Equal(t, 2, summary.Output)
	assert.Equal(t, []string{"L-1", "L-3"}, column(t, output, "id"))
	assert.Equal(t, []string{"100", "1250"}, column(t, output, "price"))

	rejects := filepath.Join(dir, "rejects.csv")
	assert.Equal(t, []string{"L-2"}, column(t, rejects, "id"))
	assert.Equal(t, []string{"price on request"}, column(t, rejects, "price"))
	assert.Equal(t, []string{"price"}, column(t, rejects, RejectFieldColumn))
}

func TestRunNearDuplicates(t *testing.T) {
	dir := t.TempDir()
	input, output := filepath.Join(dir, "in.csv"), filepath.Join(dir, "out.csv")
	writeCSV(t, input, [][]string{
		{"L-1", "12 Mill Lane, Alton", "100", "bright two room flat with balcony"},
		{"L-2", "12 Mill Lane, Alton, Hants", "", "bright two room flat with balcony"},
		{"L-3", "7 Dock Road, Hull", "90", "small studio"},
	})

	summary, err := NewDriver(zaptest.NewLogger(t)).Run(context.Background(), input, output, testConfig(dir))
	require.NoError(t, err)

	assert.Equal(t, 0, summary.ExactDuplicatesRemoved)
	assert.Equal(t, 1, summary.NearDuplicatesRemoved)
	assert.Equal(t, []string{"L-1", "L-3"}, column(t, output, "id"))

	report := readReport(t, filepath.Join(dir, "report.json"))
	require.Len(t, report.Clusters, 1)
	assert.Equal(t, "near", report.Clusters[0].Reason)
	assert.Equal(t, "L-1", report.Clusters[0].SurvivorID, "the more complete record survives")
	require.NotNil(t, report.Clusters[0].Score)
	assert.GreaterOrEqual(t, *report.Clusters[0].Score, 0.9)
}

// fakeInput writes n listings with duplicates, reformatted copies and
// malformed prices mixed in.
func fakeInput(t *testing.T, path string, seed int64, n int) {
	t.Helper()
	faker := gofakeit.New(seed)
	rows := make([][]string, 0, n)
	for i := 0; i < n; i++ {
		switch {
		case i > 0 && faker.Number(0, 5) == 0:
			src := append([]string(nil), rows[faker.Number(0, len(rows)-1)]...)
			src[0] = fmt.Sprintf("L-%d", i)
			rows = append(rows, src)
		case i > 0 && faker.Number(0, 5) == 0:
			src := append([]string(nil), rows[faker.Number(0, len(rows)-1)]...)
			src[0] = fmt.Sprintf("L-%d", i)
			src[1] = strings.ToUpper(src[1])
			rows = append(rows, src)
		case faker.Number(0, 9) == 0:
			rows = append(rows, []string{fmt.Sprintf("L-%d", i), faker.Street(), "n/a", faker.Sentence(6)})
		default:
			rows = append(rows, []string{
				fmt.Sprintf("L-%d", i),
				fmt.Sprintf("%s, %s", faker.Street(), faker.City()),
				fmt.Sprintf("%.2f", faker.Price(300, 5000)),
				faker.Sentence(10),
			})
		}
	}
	writeCSV(t, path, rows)
}

func TestRunConservesRecords(t *testing.T) {
	for _, seed := range []int64{1, 2, 3} {
		t.Run(fmt.Sprint(seed), func(t *testing.T) {
			dir := t.TempDir()
			input, output := filepath.Join(dir, "in.csv"), filepath.Join(dir, "out.parquet")
			fakeInput(t, input, seed, 250)

			cfg := testConfig(dir)
			cfg.Similarity.Threshold = 0.8
			summary, err := NewDriver(zaptest.NewLogger(t)).Run(context.Background(), input, output, cfg)
			require.NoError(t, err)

			assert.Equal(t, 250, summary.Input)
			assert.Equal(t, summary.Input, summary.Output+summary.ExactDuplicatesRemoved+summary.NearDuplicatesRemoved+summary.Rejected)
			assert.Len(t, column(t, output, "id"), summary.Output)
			assert.Len(t, column(t, cfg.RejectsPath, "id"), summary.Rejected)

			report := readReport(t, cfg.ReportPath)
			removed := make(map[int]bool)
			for _, c := range report.Clusters {
				for _, ord := range c.DiscardedOrdinals {
					assert.False(t, removed[ord], "ordinal %d discarded twice", ord)
					removed[ord] = true
				}
			}
			assert.Len(t, removed, summary.ExactDuplicatesRemoved+summary.NearDuplicatesRemoved)
		})
	}
}

func TestRunIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	input, output := filepath.Join(dir, "in.csv"), filepath.Join(dir, "out.parquet")
	fakeInput(t, input, 42, 120)
	cfg := testConfig(dir)
	cfg.RejectsPath = filepath.Join(dir, "rejects.parquet")
	driver := NewDriver(zaptest.NewLogger(t))

	snapshot := func() map[string][]byte {
		files := make(map[string][]byte)
		for _, p := range []string{output, cfg.RejectsPath, cfg.ReportPath} {
			data, err := os.ReadFile(p)
			require.NoError(t, err)
			files[p] = data
		}
		return files
	}

	first, err := driver.Run(context.Background(), input, output, cfg)
	require.NoError(t, err)
	before := snapshot()

	second, err := driver.Run(context.Background(), input, output, cfg)
	require.NoError(t, err)

	assert.Equal(t, before, snapshot())
	assert.Equal(t, first.Stats, second.Stats)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestRunFailsBeforeWriting(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		check  func(t *testing.T, err error)
	}{
		{
			name:   "missing required column",
			mutate: func(c *config.Config) { c.Schema.Required = []string{"id", "floorNumber"} },
			check: func(t *testing.T, err error) {
				var mismatch *etlerr.SchemaMismatchError
				require.True(t, errors.As(err, &mismatch))
				assert.Equal(t, []string{"floorNumber"}, mismatch.Missing)
			},
		},
		{
			name:   "key field not in input",
			mutate: func(c *config.Config) { c.Dedupe.KeyFields = []string{"postalCode"} },
			check: func(t *testing.T, err error) {
				var cfgErr *etlerr.ConfigurationError
				require.True(t, errors.As(err, &cfgErr))
				assert.Equal(t, "dedupe.key_fields", cfgErr.Field)
			},
		},
		{
			name:   "similarity column not in input",
			mutate: func(c *config.Config) { c.Similarity.Groups[1].Columns = []string{"title"} },
			check: func(t *testing.T, err error) {
				var cfgErr *etlerr.ConfigurationError
				require.True(t, errors.As(err, &cfgErr))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			input, output := filepath.Join(dir, "in.csv"), filepath.Join(dir, "out.csv")
			writeCSV(t, input, [][]string{{"L-1", "1 Mill Lane", "100", "studio"}})
			require.NoError(t, os.WriteFile(output, []byte("previous"), 0o644))

			cfg := testConfig(dir)
			tt.mutate(cfg)
			_, err := NewDriver(zaptest.NewLogger(t)).Run(context.Background(), input, output, cfg)
			require.Error(t, err)
			tt.check(t, err)

			data, readErr := os.ReadFile(output)
			require.NoError(t, readErr)
			assert.Equal(t, "previous", string(data))
			assert.False(t, dataset.Exists(cfg.ReportPath))
			assert.False(t, dataset.Exists(cfg.RejectsPath))
		})
	}
}

func TestRunWritesReportLast(t *testing.T) {
	t.Run("output fails", func(t *testing.T) {
		dir := t.TempDir()
		input := filepath.Join(dir, "in.csv")
		writeCSV(t, input, [][]string{{"L-1", "1 Mill Lane", "100", "studio"}, {"L-2", "2 Mill Lane", "n/a", "loft"}})
		cfg := testConfig(dir)

		_, err := NewDriver(zaptest.NewLogger(t)).Run(context.Background(), input, filepath.Join(dir, "no-such-dir", "out.csv"), cfg)
		var ioErr *etlerr.IOError
		require.ErrorAs(t, err, &ioErr)
		assert.False(t, dataset.Exists(cfg.ReportPath))
		assert.False(t, dataset.Exists(cfg.RejectsPath))
	})

	t.Run("rejects fail", func(t *testing.T) {
		dir := t.TempDir()
		input, output := filepath.Join(dir, "in.csv"), filepath.Join(dir, "out.csv")
		writeCSV(t, input, [][]string{{"L-1", "1 Mill Lane", "100", "studio"}, {"L-2", "2 Mill Lane", "n/a", "loft"}})
		cfg := testConfig(dir)
		cfg.RejectsPath = filepath.Join(dir, "no-such-dir", "rejects.csv")

		_, err := NewDriver(zaptest.NewLogger(t)).Run(context.Background(), input, output, cfg)
		require.Error(t, err)
		assert.True(t, dataset.Exists(output))
		assert.False(t, dataset.Exists(cfg.ReportPath), "a report must not describe an incomplete run")
	})
}

func TestRunCoercesInferredDateColumns(t *testing.T) {
	dir := t.TempDir()
	input, output := filepath.Join(dir, "in.csv"), filepath.Join(dir, "out.csv")
	rows := "id,street,price,listedAt\n" +
		"L-1,1 Mill Lane,100,2024-01-05\n" +
		"L-2,2 Mill Lane,110,2024-02-05\n" +
		"L-3,3 Mill Lane,120,soon\n"
	require.NoError(t, os.WriteFile(input, []byte(rows), 0o644))

	cfg := testConfig(dir)
	cfg.Schema.Types = map[string]string{"street": "address", "price": "number"}
	cfg.Schema.InferSample = 2
	cfg.Similarity.Groups = cfg.Similarity.Groups[:1]

	summary, err := NewDriver(zaptest.NewLogger(t)).Run(context.Background(), input, output, cfg)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Rejected, "an undeclared column never rejects a record")
	assert.Equal(t, 3, summary.Output)
	assert.Equal(t, []string{"L-1", "L-2", "L-3"}, column(t, output, "id"))
	listed := column(t, output, "listedAt")
	assert.NotEmpty(t, listed[0])
	assert.Empty(t, listed[2])
}

func TestRunValidatesConfigBeforeReading(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Similarity.Threshold = 1.5

	_, err := NewDriver(nil).Run(context.Background(), filepath.Join(dir, "missing.csv"), filepath.Join(dir, "out.csv"), cfg)

	var cfgErr *etlerr.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "similarity.threshold", cfgErr.Field)
}

func TestRunMissingInputIsIOError(t *testing.T) {
	dir := t.TempDir()
	_, err := NewDriver(nil).Run(context.Background(), filepath.Join(dir, "missing.csv"), filepath.Join(dir, "out.csv"), testConfig(dir))

	var ioErr *etlerr.IOError
	require.True(t, errors.As(err, &ioErr))
}

type recorderFunc func(context.Context, RunSummary, []resolve.Entry) error

func (f recorderFunc) RecordRun(ctx context.Context, s RunSummary, e []resolve.Entry) error {
	return f(ctx, s, e)
}

func TestRunRecordsSummary(t *testing.T) {
	dir := t.TempDir()
	input, output := filepath.Join(dir, "in.csv"), filepath.Join(dir, "out.csv")
	writeCSV(t, input, [][]string{
		{"L-1", "1 Mill Lane", "100", "studio"},
		{"L-2", "1 Mill Lane", "100", "studio"},
	})

	var got RunSummary
	var entries []resolve.Entry
	rec := recorderFunc(func(_ context.Context, s RunSummary, e []resolve.Entry) error {
		got, entries = s, e
		return nil
	})

	summary, err := NewDriver(zaptest.NewLogger(t), WithRecorder(rec)).Run(context.Background(), input, output, testConfig(dir))
	require.NoError(t, err)
	assert.Equal(t, summary, got)
	assert.Len(t, entries, 1)

	failing := recorderFunc(func(context.Context, RunSummary, []resolve.Entry) error { return errors.New("db down") })
	_, err = NewDriver(zaptest.NewLogger(t), WithRecorder(failing)).Run(context.Background(), input, output, testConfig(dir))
	assert.ErrorContains(t, err, "db down")
}

func TestStatsCheck(t *testing.T) {
	assert.NoError(t, Stats{Input: 10, Output: 6, ExactDuplicatesRemoved: 2, NearDuplicatesRemoved: 1, Rejected: 1}.Check())
	assert.Error(t, Stats{Input: 10, Output: 6}.Check())
}

func TestDryRunWritesNothing(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.csv")
	writeCSV(t, input, [][]string{
		{"L-1", "1 Mill Lane", "100", "studio"},
		{"L-2", "1 Mill Lane", "100", "studio"},
		{"L-3", "2 Mill Lane", "n/a", "studio"},
	})
	cfg := testConfig(dir)

	stats, err := NewDriver(zaptest.NewLogger(t)).DryRun(context.Background(), input, cfg)
	require.NoError(t, err)
	assert.Equal(t, Stats{Input: 3, Rejected: 1, ExactDuplicatesRemoved: 1, Output: 1, ExactClusters: 1}, stats)
	assert.False(t, dataset.Exists(cfg.ReportPath))
	assert.False(t, dataset.Exists(cfg.RejectsPath))
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()
	input, output := filepath.Join(dir, "in.csv"), filepath.Join(dir, "out.parquet")
	fakeInput(t, input, 7, 60)
	cfg := testConfig(dir)

	summary, err := NewDriver(zaptest.NewLogger(t)).Run(context.Background(), input, output, cfg)
	require.NoError(t, err)

	shape, err := Verify(output, cfg.ReportPath)
	require.NoError(t, err)
	assert.Equal(t, summary.Output, shape.Rows)
	assert.ElementsMatch(t, header, shape.Columns)

	shape, err = Verify(output, "")
	require.NoError(t, err)
	assert.Equal(t, summary.Output, shape.Rows)

	// A report from another run no longer matches the dataset.
	other := filepath.Join(dir, "other.csv")
	writeCSV(t, other, [][]string{{"L-1", "1 Mill Lane", "100", "studio"}})
	_, err = NewDriver(nil).Run(context.Background(), other, filepath.Join(dir, "other-out.csv"), cfg)
	require.NoError(t, err)
	if summary.Output != 1 {
		_, err = Verify(output, cfg.ReportPath)
		assert.Error(t, err)
	}

	_, err = Verify(filepath.Join(dir, "missing.parquet"), "")
	var ioErr *etlerr.IOError
	require.True(t, errors.As(err, &ioErr))
	assert.Equal(t, "verify", ioErr.Op)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Verify(dir, "")
	assert.ErrorIs(t, err, os.ErrNotExist, "a directory is not a dataset")
}
