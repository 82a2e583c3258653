// internal/worker/archive.go
package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"audit-aggregator/internal/metrics"
	"audit-aggregator/internal/model"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const archiveExt = ".jsonl.gz"

// archiveMeta 는 archive 파일 옆의 side-car.
type archiveMeta struct {
	RunID     string `json:"run_id"`
	NumEvents int    `json:"num_events"`
	CreatedAt string `json:"created_at"`
}

// Archive
//
// 한 번의 실행에서 정규화된 이벤트 전체를
// <dir>/<unix>_<instance>_<counter>.jsonl.gz 로 남긴다.
// 보존 기간(retention)이 지난 파일은 Prune 에서 지운다.
type Archive struct {
	dir        string
	instanceID string
	retention  time.Duration
	metrics    *metrics.Metrics
	encoder    *Encoder

	now func() time.Time
}

func NewArchive(dir, instanceID string, retention time.Duration, m *metrics.Metrics) *Archive {
	return &Archive{
		dir:        dir,
		instanceID: instanceID,
		retention:  retention,
		metrics:    m,
		encoder:    NewEncoder(),
		now:        time.Now,
	}
}

// Write 는 이벤트를 JSONL.gz 로 인코딩해서 저장하고 경로를 돌려준다.
// 임시 파일에 먼저 쓰고 rename 하므로 중간 상태 파일은 남지 않는다.
func (a *Archive) Write(runID string, events []model.LogEvent) (string, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	data, err := a.encoder.EncodeEventsJSONLGZ(events)
	if err != nil {
		return "", fmt.Errorf("encode archive: %w", err)
	}

	now := a.now()
	name := NewFilename(a.instanceID, now, archiveExt)
	path := filepath.Join(a.dir, name)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}

	meta, _ := json.Marshal(archiveMeta{
		RunID:     runID,
		NumEvents: len(events),
		CreatedAt: now.UTC().Format(time.RFC3339),
	})
	if err := os.WriteFile(path+metaExt, meta, 0o644); err != nil {
		log.Warn().Err(err).Str("file", name).Msg("archive meta write failed")
	}

	atomic.AddInt64(&a.metrics.ArchiveEventsWrittenTotal, int64(len(events)))
	return path, nil
}

// Prune 은 파일명 timestamp 기준으로 retention 을 넘긴 archive 를 지운다.
func (a *Archive) Prune() (int, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	now := a.now()
	pruned := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, archiveExt) {
			continue
		}
		age, old := expired(name, now, a.retention)
		if !old {
			continue
		}

		path := filepath.Join(a.dir, name)
		if err := os.Remove(path); err != nil {
			log.Warn().Err(err).Str("file", name).Msg("archive prune failed")
			continue
		}
		_ = os.Remove(path + metaExt)

		pruned++
		atomic.AddInt64(&a.metrics.ArchiveFilesPrunedTotal, 1)
		log.Info().Str("file", name).Dur("age", age).Msg("archive expired, deleted")
	}
	return pruned, nil
}
