// internal/worker/spool.go
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"audit-aggregator/internal/config"
	"audit-aggregator/internal/metrics"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const (
	spoolExt = ".spool"
	metaExt  = ".meta.json"
)

// spoolMeta 는 data 파일 옆의 side-car. 업로드할 key 를 기억한다.
type spoolMeta struct {
	Key         string `json:"key"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size"`
}

// Spool
// ------------------------------------------------------------
// S3 업로드에 실패한 object 를 로컬 디스크에 보관하고
// 다음 실행에서 재업로드한다.
//
//   - TTL: 파일명 prefix 의 Unix timestamp 기준 (retention_days)
//   - 용량: MaxSizeBytes 를 넘으면 가장 오래된 파일부터 지운다
//   - key 는 .meta.json 에만 있으므로 meta 가 없거나 깨진 data 파일은 버린다
type Spool struct {
	dir        string
	maxSize    int64
	maxAge     time.Duration
	instanceID string
	metrics    *metrics.Metrics
	uploader   *S3Uploader

	now func() time.Time

	// 현재 spool 디렉토리의 data 파일 총 바이트 수
	sizeBytes int64
}

// NewSpool 은 디렉토리를 만들고 기존 파일을 스캔해서 용량/파일 수를 복원한다.
// data 없이 남은 meta orphan 은 이때 지운다.
func NewSpool(cfg config.Config, m *metrics.Metrics, uploader *S3Uploader) (*Spool, error) {
	if err := os.MkdirAll(cfg.SpoolDir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}

	s := &Spool{
		dir:        cfg.SpoolDir,
		maxSize:    cfg.SpoolMaxSizeBytes,
		maxAge:     cfg.Retention(),
		instanceID: cfg.InstanceID,
		metrics:    m,
		uploader:   uploader,
		now:        time.Now,
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("scan spool dir: %w", err)
	}

	var total, count int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()

		if strings.HasSuffix(name, metaExt) {
			dataName := strings.TrimSuffix(name, metaExt)
			if _, err := os.Stat(filepath.Join(s.dir, dataName)); os.IsNotExist(err) {
				_ = os.Remove(filepath.Join(s.dir, name))
			}
			continue
		}
		if !strings.HasSuffix(name, spoolExt) {
			continue
		}
		if info, err := e.Info(); err == nil {
			total += info.Size()
			count++
		}
	}

	atomic.StoreInt64(&s.sizeBytes, total)
	atomic.StoreInt64(&m.SpoolSizeBytes, total)
	atomic.StoreInt64(&m.SpoolFilesCurrent, count)
	return s, nil
}

// Pending 은 재업로드를 기다리는 data 파일 수.
func (s *Spool) Pending() int {
	return len(s.list())
}

// Save 는 업로드에 실패한 object 를 key 와 함께 저장한다.
// 오래된 파일을 지워도 공간이 모자라면 저장하지 않고 drop 으로 센다.
func (s *Spool) Save(key string, data []byte, contentType string) error {
	if len(data) == 0 {
		return nil
	}

	size := int64(len(data))
	if !s.ensureCapacity(size) {
		log.Error().Str("key", key).Int64("bytes", size).Msg("spool full, dropping object")
		atomic.AddInt64(&s.metrics.SpoolFilesDroppedTotal, 1)
		return fmt.Errorf("spool full: %s: %d bytes", key, size)
	}

	filename := NewFilename(s.instanceID, s.now(), spoolExt)
	dataPath := filepath.Join(s.dir, filename)
	metaPath := dataPath + metaExt

	meta, err := json.Marshal(spoolMeta{Key: key, ContentType: contentType, Size: size})
	if err != nil {
		return err
	}

	// meta 를 먼저 쓴다. data 만 남는 경우가 없어야 key 를 잃지 않는다.
	if err := os.WriteFile(metaPath, meta, 0o600); err != nil {
		return err
	}
	if err := os.WriteFile(dataPath, data, 0o600); err != nil {
		_ = os.Remove(metaPath)
		return err
	}

	atomic.AddInt64(&s.sizeBytes, size)
	atomic.AddInt64(&s.metrics.SpoolSizeBytes, size)
	atomic.AddInt64(&s.metrics.SpoolFilesCurrent, 1)
	atomic.AddInt64(&s.metrics.SpoolFilesStoredTotal, 1)

	log.Warn().Str("key", key).Str("file", filename).Msg("object spooled for later upload")
	return nil
}

// ensureCapacity 는 MaxSizeBytes 를 넘지 않도록 가장 오래된 파일부터 지운다.
// 지울 파일이 더 없는데도 모자라면 false.
func (s *Spool) ensureCapacity(incoming int64) bool {
	if s.maxSize <= 0 {
		return true
	}
	if incoming > s.maxSize {
		return false
	}

	for {
		if atomic.LoadInt64(&s.sizeBytes)+incoming <= s.maxSize {
			return true
		}

		oldest := s.pickOldest()
		if oldest == "" {
			return false
		}
		s.remove(oldest)
		atomic.AddInt64(&s.metrics.SpoolFilesExpiredTotal, 1)
		log.Warn().Str("file", oldest).Msg("spool capacity, evicted oldest")
	}
}

// Flush 는 spool 이 빌 때까지 (또는 업로드 실패가 날 때까지) 재업로드한다.
// 재업로드된 파일 수를 돌려준다.
func (s *Spool) Flush(ctx context.Context) (int, error) {
	uploaded := 0
	for {
		ok, err := s.ProcessOneCtx(ctx)
		if err != nil {
			return uploaded, err
		}
		if !ok {
			return uploaded, nil
		}
		uploaded++
	}
}

// ProcessOneCtx
//
// 가장 오래된 파일 하나를 처리한다.
//   - TTL 초과 → 삭제 후 다음 파일로
//   - meta 누락/손상 → 삭제 후 다음 파일로
//   - 업로드 성공 → 삭제, true
//
// 처리할 파일이 없으면 (false, nil).
func (s *Spool) ProcessOneCtx(ctx context.Context) (bool, error) {
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}

		name := s.pickOldest()
		if name == "" {
			return false, nil
		}

		if age, old := expired(name, s.now(), s.maxAge); old {
			s.remove(name)
			atomic.AddInt64(&s.metrics.SpoolFilesExpiredTotal, 1)
			log.Info().Str("file", name).Dur("age", age).Msg("spool TTL expired, deleted")
			continue
		}

		dataPath := filepath.Join(s.dir, name)
		meta, ok := readMeta(dataPath + metaExt)
		if !ok {
			s.remove(name)
			atomic.AddInt64(&s.metrics.SpoolFilesExpiredTotal, 1)
			log.Warn().Str("file", name).Msg("spool meta missing or corrupt, deleted")
			continue
		}

		if err := s.upload(ctx, dataPath, meta); err != nil {
			return false, err
		}

		s.remove(name)
		atomic.AddInt64(&s.metrics.SpoolFilesReuploadedTotal, 1)
		log.Info().Str("key", meta.Key).Msg("spooled object uploaded")
		return true, nil
	}
}

func (s *Spool) upload(ctx context.Context, dataPath string, meta spoolMeta) error {
	if s.uploader == nil {
		return fmt.Errorf("spool: no uploader configured")
	}

	f, err := os.Open(dataPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	return s.uploader.UploadFileWithRetryCtx(ctx, meta.Key, f, info.Size(), meta.ContentType)
}

func readMeta(path string) (spoolMeta, bool) {
	var meta spoolMeta
	b, err := os.ReadFile(path)
	if err != nil {
		return meta, false
	}
	if json.Unmarshal(b, &meta) != nil || meta.Key == "" {
		return meta, false
	}
	return meta, true
}

// remove 는 data + meta 를 지우고 용량 카운터를 맞춘다.
func (s *Spool) remove(name string) {
	dataPath := filepath.Join(s.dir, name)
	if info, err := os.Stat(dataPath); err == nil {
		atomic.AddInt64(&s.sizeBytes, -info.Size())
		atomic.AddInt64(&s.metrics.SpoolSizeBytes, -info.Size())
		atomic.AddInt64(&s.metrics.SpoolFilesCurrent, -1)
	}
	_ = os.Remove(dataPath)
	_ = os.Remove(dataPath + metaExt)
}

func (s *Spool) list() []string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == "" || name[0] == '.' || !strings.HasSuffix(name, spoolExt) {
			continue
		}
		files = append(files, name)
	}
	return files
}

// pickOldest : 파일명 = <unix>_... 이므로 문자열 정렬이 곧 시간 정렬.
// ReadDir 결과 순서에 의존하지 않도록 항상 정렬한다.
func (s *Spool) pickOldest() string {
	files := s.list()
	if len(files) == 0 {
		return ""
	}
	sort.Strings(files)
	return files[0]
}
