package worker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audit-aggregator/internal/config"
	"audit-aggregator/internal/metrics"
	"audit-aggregator/internal/model"
)

// fakeS3 는 PutObject 를 메모리에 기록한다. failN 번까지는 실패한다.
type fakeS3 struct {
	mu      sync.Mutex
	failN   int
	calls   int
	objects map[string][]byte
	types   map[string]string
}

func newFakeS3(failN int) *fakeS3 {
	return &fakeS3{failN: failN, objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.failN < 0 || f.calls <= f.failN {
		return nil, errors.New("s3 unavailable")
	}

	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = body
	if in.ContentType != nil {
		f.types[*in.Key] = *in.ContentType
	}
	return &s3.PutObjectOutput{}, nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		InstanceID:        "test",
		Bucket:            "audit-bucket",
		Prefix:            "audit",
		S3AppRetries:      1,
		S3Timeout:         time.Second,
		RetentionDays:     7,
		SpoolDir:          t.TempDir(),
		SpoolMaxSizeBytes: 1 << 20,
	}
}

func TestFilenameAndKey(t *testing.T) {
	now := time.Date(2025, 3, 1, 22, 15, 0, 0, time.FixedZone("KST", 9*3600))

	name := NewFilename("ci-3", now, ".spool")
	assert.Regexp(t, regexp.MustCompile(`^\d+_ci-3_\d{6}\.spool$`), name)

	sec, ok := extractUnixFromFilename(name)
	require.True(t, ok)
	assert.Equal(t, now.Unix(), sec)

	// 파티션은 UTC
	assert.Equal(t, "audit/dt=2025-03-01/hr=13/x.json", BuildS3Key("/audit/", "x.json", now))
	assert.Equal(t, "dt=2025-03-01/hr=13/x.json", BuildS3Key("", "x.json", now))

	_, old := expired(name, now.Add(2*time.Hour), time.Hour)
	assert.True(t, old)
	_, old = expired(name, now.Add(2*time.Hour), 0)
	assert.False(t, old)
	_, old = expired("garbage.spool", now, time.Hour)
	assert.False(t, old)
}

func TestUploaderRetries(t *testing.T) {
	cfg := testConfig(t)
	cfg.S3AppRetries = 2
	m := metrics.New()
	fake := newFakeS3(1)

	u := NewS3Uploader(cfg, m, fake)
	require.NoError(t, u.UploadBytesWithRetryCtx(context.Background(), "k", []byte("hello"), "text/plain"))

	assert.Equal(t, 2, fake.calls)
	assert.Equal(t, []byte("hello"), fake.objects["k"])
	assert.Equal(t, "text/plain", fake.types["k"])
	assert.Equal(t, int64(1), atomic.LoadInt64(&m.S3PutErrorsTotal))
	assert.Equal(t, int64(1), atomic.LoadInt64(&m.S3ObjectsStoredTotal))
}

func TestUploaderGivesUp(t *testing.T) {
	cfg := testConfig(t)
	fake := newFakeS3(-1)

	u := NewS3Uploader(cfg, metrics.New(), fake)
	err := u.UploadBytesWithRetryCtx(context.Background(), "k", []byte("x"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload k: s3 unavailable")
	assert.Equal(t, 1, fake.calls)
}

func TestUploaderFileRewinds(t *testing.T) {
	cfg := testConfig(t)
	cfg.S3AppRetries = 2
	fake := newFakeS3(1)
	u := NewS3Uploader(cfg, metrics.New(), fake)

	r := bytes.NewReader([]byte("payload"))
	_, _ = r.Seek(3, io.SeekStart)
	require.NoError(t, u.UploadFileWithRetryCtx(context.Background(), "f", r, 7, ""))
	assert.Equal(t, []byte("payload"), fake.objects["f"])
}

func TestSpoolSaveAndFlush(t *testing.T) {
	cfg := testConfig(t)
	m := metrics.New()
	fake := newFakeS3(0)

	sp, err := NewSpool(cfg, m, NewS3Uploader(cfg, m, fake))
	require.NoError(t, err)

	require.NoError(t, sp.Save("audit/a.json", []byte(`{"a":1}`), "application/json"))
	require.NoError(t, sp.Save("audit/b.md", []byte("# b"), "text/markdown"))
	assert.Equal(t, 2, sp.Pending())
	assert.Equal(t, int64(2), atomic.LoadInt64(&m.SpoolFilesCurrent))

	n, err := sp.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, sp.Pending())

	assert.Equal(t, []byte(`{"a":1}`), fake.objects["audit/a.json"])
	assert.Equal(t, "text/markdown", fake.types["audit/b.md"])
	assert.Equal(t, int64(2), atomic.LoadInt64(&m.SpoolFilesReuploadedTotal))
	assert.Zero(t, atomic.LoadInt64(&m.SpoolSizeBytes))

	entries, _ := os.ReadDir(cfg.SpoolDir)
	assert.Empty(t, entries)
}

func TestSpoolFlushStopsOnFailure(t *testing.T) {
	cfg := testConfig(t)
	m := metrics.New()

	sp, err := NewSpool(cfg, m, NewS3Uploader(cfg, m, newFakeS3(-1)))
	require.NoError(t, err)
	require.NoError(t, sp.Save("k", []byte("data"), ""))

	n, err := sp.Flush(context.Background())
	assert.Error(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, sp.Pending())
}

func TestSpoolExpiresOldFiles(t *testing.T) {
	cfg := testConfig(t)
	m := metrics.New()
	fake := newFakeS3(0)

	sp, err := NewSpool(cfg, m, NewS3Uploader(cfg, m, fake))
	require.NoError(t, err)
	require.NoError(t, sp.Save("old", []byte("data"), ""))

	sp.now = func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }

	n, err := sp.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, fake.calls)
	assert.Equal(t, int64(1), atomic.LoadInt64(&m.SpoolFilesExpiredTotal))
	assert.Zero(t, sp.Pending())
}

func TestSpoolCapacity(t *testing.T) {
	cfg := testConfig(t)
	cfg.SpoolMaxSizeBytes = 10
	m := metrics.New()

	sp, err := NewSpool(cfg, m, nil)
	require.NoError(t, err)

	require.NoError(t, sp.Save("first", []byte("123456"), ""))
	require.NoError(t, sp.Save("second", []byte("abcdef"), ""))

	// first 가 밀려난다
	require.Equal(t, 1, sp.Pending())
	meta, ok := readMeta(filepath.Join(cfg.SpoolDir, sp.pickOldest()) + metaExt)
	require.True(t, ok)
	assert.Equal(t, "second", meta.Key)
	assert.Equal(t, int64(6), atomic.LoadInt64(&m.SpoolSizeBytes))

	err = sp.Save("huge", make([]byte, 11), "")
	assert.Error(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&m.SpoolFilesDroppedTotal))
}

func TestSpoolDropsFilesWithoutMeta(t *testing.T) {
	cfg := testConfig(t)
	m := metrics.New()
	fake := newFakeS3(0)

	require.NoError(t, os.WriteFile(filepath.Join(cfg.SpoolDir, "1700000000_test_000001.spool"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.SpoolDir, "1700000001_test_000002.spool"+metaExt), []byte(`{"key":"k"}`), 0o600))

	sp, err := NewSpool(cfg, m, NewS3Uploader(cfg, m, fake))
	require.NoError(t, err)
	sp.now = func() time.Time { return time.Unix(1700000100, 0) }

	// orphan meta 는 NewSpool 에서 지워진다
	_, err = os.Stat(filepath.Join(cfg.SpoolDir, "1700000001_test_000002.spool"+metaExt))
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, int64(1), atomic.LoadInt64(&m.SpoolFilesCurrent))

	n, err := sp.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, fake.calls)
	assert.Zero(t, sp.Pending())
}

func TestPublisherSpoolsThenRecovers(t *testing.T) {
	cfg := testConfig(t)
	m := metrics.New()
	down := newFakeS3(-1)

	sp, err := NewSpool(cfg, m, NewS3Uploader(cfg, m, down))
	require.NoError(t, err)

	fixed := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	pub := NewPublisher(NewS3Uploader(cfg, m, down), sp, cfg.Prefix)
	pub.now = func() time.Time { return fixed }

	res, err := pub.Publish(context.Background(), "run-1", Artifact{Name: "report.json", Body: []byte("{}"), ContentType: "application/json"})
	require.NoError(t, err)
	assert.Empty(t, res.Uploaded)
	assert.Equal(t, []string{"audit/dt=2025-03-01/hr=09/run-1/report.json"}, res.Spooled)

	// 다음 실행: S3 복구
	up := newFakeS3(0)
	sp2, err := NewSpool(cfg, m, NewS3Uploader(cfg, m, up))
	require.NoError(t, err)
	pub2 := NewPublisher(NewS3Uploader(cfg, m, up), sp2, cfg.Prefix)
	pub2.now = func() time.Time { return fixed.Add(time.Hour) }

	res, err = pub2.Publish(context.Background(), "run-2", Artifact{Name: "report.md", Body: []byte("# r"), ContentType: "text/markdown"})
	require.NoError(t, err)
	assert.Equal(t, []string{"audit/dt=2025-03-01/hr=10/run-2/report.md"}, res.Uploaded)
	assert.Contains(t, up.objects, "audit/dt=2025-03-01/hr=09/run-1/report.json")
	assert.Zero(t, sp2.Pending())
}

func TestPublisherWithoutSpool(t *testing.T) {
	cfg := testConfig(t)
	pub := NewPublisher(NewS3Uploader(cfg, metrics.New(), newFakeS3(-1)), nil, "")

	_, err := pub.Publish(context.Background(), "run", Artifact{Name: "r.json", Body: []byte("{}")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "neither uploaded nor spooled")
}

func TestArchiveWriteAndPrune(t *testing.T) {
	dir := t.TempDir()
	m := metrics.New()
	a := NewArchive(dir, "test", 24*time.Hour, m)

	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []model.LogEvent{
		{Timestamp: ts, Source: "a.jsonl", Operation: "CREATE", Entity: "A", Status: model.StatusSuccess},
		{Timestamp: ts.Add(time.Minute), Source: "a.jsonl", Operation: "DELETE", Entity: "B", Status: model.StatusFail},
	}

	path, err := a.Write("run-1", events)
	require.NoError(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&m.ArchiveEventsWrittenTotal))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)

	var got []model.LogEvent
	sc := bufio.NewScanner(gz)
	for sc.Scan() {
		var ev model.LogEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		got = append(got, ev)
	}
	require.NoError(t, sc.Err())
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[1].Entity)
	assert.True(t, got[0].Timestamp.Equal(ts))

	var meta archiveMeta
	raw, err := os.ReadFile(path + metaExt)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &meta))
	assert.Equal(t, "run-1", meta.RunID)
	assert.Equal(t, 2, meta.NumEvents)

	n, err := a.Prune()
	require.NoError(t, err)
	assert.Zero(t, n)

	a.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	n, err = a.Prune()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestArchivePruneMissingDir(t *testing.T) {
	a := NewArchive(filepath.Join(t.TempDir(), "none"), "test", time.Hour, metrics.New())
	n, err := a.Prune()
	assert.NoError(t, err)
	assert.Zero(t, n)
}
