package report

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eunmann/txn-batch-report/pkg/batchconfig"
	"github.com/eunmann/txn-batch-report/pkg/batchexec"
	"github.com/eunmann/txn-batch-report/pkg/objstore"
	"github.com/eunmann/txn-batch-report/pkg/store"
)

var fixedTime = time.Date(2024, 3, 5, 14, 7, 9, 123000000, time.UTC)

func fixedClock() time.Time { return fixedTime }

func sampleResult() *batchexec.Result {
	maxBatches := 4
	return &batchexec.Result{
		Name:             "simple_document_extraction",
		Timestamp:        "2024-03-05T14:07:09.123Z",
		TotalDocuments:   25,
		BatchesProcessed: 3,
		Results: []store.Record{
			{"_id": "a", "n": 1},
			{"_id": "b", "n": 2},
			{"_id": "c", "n": 3},
			{"_id": "d", "n": 4},
		},
		Config: batchexec.RunConfig{
			BatchSize:       10,
			ProcessingDelay: 500,
			MaxBatches:      &maxBatches,
			Strategy:        batchexec.StrategyPreAggregation,
		},
	}
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "public-keys_2024-03-05T14-07-09.json", Filename("public-keys", fixedTime, ExtJSON))

	local := fixedTime.In(time.FixedZone("COT", -5*3600))
	assert.Equal(t, "x_2024-03-05T14-07-09.json.gz", Filename("x", local, ".json.gz"))
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleResult())
	assert.Equal(t, Summary{TotalResults: 4, BatchesProcessed: 3, TotalDocuments: 25, AverageResultsPerBatch: 1}, s)

	empty := &batchexec.Result{}
	assert.Zero(t, Summarize(empty).AverageResultsPerBatch)
}

func TestSave_Dir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "results")
	r := sampleResult()
	w := NewWriter(DirSink{Dir: dir}, WithClock(fixedClock))

	path, err := w.Save(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "simple_document_extraction_2024-03-05T14-07-09.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.HasPrefix(text, "{\n  \"name\": \"simple_document_extraction\""), text)
	assert.Contains(t, text, "\n  \"summary\": {\n    \"totalResults\": 4,")
	assert.Contains(t, text, "\"averageResultsPerBatch\": 1")
	assert.Contains(t, text, "\"maxBatches\": 4")

	assert.Len(t, r.Results, 4, "envelope unchanged")

	doc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, r.Name, doc.Name)
	assert.Equal(t, 3, doc.BatchesProcessed)
	assert.Len(t, doc.Results, 4)
	assert.Equal(t, Summarize(r), doc.Summary)
}

func TestSave_Compressed(t *testing.T) {
	for _, tc := range []struct {
		compression, ext string
	}{
		{batchconfig.CompressionGzip, ".json.gz"},
		{batchconfig.CompressionZstd, ".json.zst"},
	} {
		t.Run(tc.compression, func(t *testing.T) {
			dir := t.TempDir()
			w := NewWriter(DirSink{Dir: dir}, WithClock(fixedClock), WithCompression(tc.compression))

			path, err := w.Save(context.Background(), sampleResult())
			require.NoError(t, err)
			assert.True(t, strings.HasSuffix(path, tc.ext), path)

			raw, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.NotEqual(t, byte('{'), raw[0])

			doc, err := Load(path)
			require.NoError(t, err)
			assert.Len(t, doc.Results, 4)
		})
	}
}

func TestSaveJSON_PlainValue(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(DirSink{Dir: dir}, WithClock(fixedClock))

	path, err := w.SaveJSON(context.Background(), "public-keys", []string{"k1", "k2"})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[\n  \"k1\",\n  \"k2\"\n]", string(data))
}

func TestSaveJSON_RecordKeysSorted(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(DirSink{Dir: dir}, WithClock(fixedClock))

	rec := store.Record{"status": "APPROVED", "amount": 10, "publicKey": "k1"}
	path, err := w.SaveJSON(context.Background(), "records", []store.Record{rec, rec})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Less(t, strings.Index(out, `"amount"`), strings.Index(out, `"publicKey"`))
	assert.Less(t, strings.Index(out, `"publicKey"`), strings.Index(out, `"status"`))

	again, err := NewWriter(DirSink{Dir: t.TempDir()}, WithClock(fixedClock)).
		SaveJSON(context.Background(), "records", []store.Record{rec, rec})
	require.NoError(t, err)
	second, err := os.ReadFile(again)
	require.NoError(t, err)
	assert.Equal(t, data, second)
}

func TestSaveFile(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(DirSink{Dir: dir}, WithClock(fixedClock))

	path, err := w.SaveFile(context.Background(), "public-keys", ExtParquet, []byte("PAR1"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "public-keys_2024-03-05T14-07-09.parquet"), path)
}

type failingSink struct{ err error }

func (s failingSink) Put(context.Context, string, []byte) (string, error) { return "", s.err }
func (s failingSink) Location(name string) string { return "mem://" + name }

func TestSave_PersistenceFailure(t *testing.T) {
	boom := errors.New("disk full")
	r := sampleResult()

	_, err := NewWriter(failingSink{err: boom}, WithClock(fixedClock)).Save(context.Background(), r)
	require.Error(t, err)

	var pf *PersistenceFailure
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, "mem://simple_document_extraction_2024-03-05T14-07-09.json", pf.Path)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, r.Results, 4)
}

func TestSave_UnknownCompression(t *testing.T) {
	_, err := NewWriter(DirSink{Dir: t.TempDir()}, WithCompression("brotli")).Save(context.Background(), sampleResult())
	var pf *PersistenceFailure
	require.ErrorAs(t, err, &pf)
	assert.Contains(t, err.Error(), "brotli")
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.json"))
	var pf *PersistenceFailure
	require.ErrorAs(t, err, &pf)
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0644))
	_, err = Load(bad)
	require.ErrorAs(t, err, &pf)
}

type memS3 struct {
	objects map[string][]byte
}

func (m *memS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *memS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestSave_S3(t *testing.T) {
	api := &memS3{objects: map[string][]byte{}}
	client := objstore.NewClientWithAPI(api)
	sink := S3Sink{Client: client, Bucket: "reports", Prefix: "daily/"}

	loc, err := NewWriter(sink, WithClock(fixedClock)).Save(context.Background(), sampleResult())
	require.NoError(t, err)
	assert.Equal(t, "s3://reports/daily/simple_document_extraction_2024-03-05T14-07-09.json", loc)

	rc, err := client.StreamObject(context.Background(), "reports", "daily/simple_document_extraction_2024-03-05T14-07-09.json")
	require.NoError(t, err)
	defer rc.Close()
	doc, err := Decode(rc, loc)
	require.NoError(t, err)
	assert.Equal(t, "simple_document_extraction", doc.Name)
}

func TestNewSink_Local(t *testing.T) {
	sink, err := NewSink(context.Background(), "results")
	require.NoError(t, err)
	assert.Equal(t, DirSink{Dir: "results"}, sink)
}
