// internal/worker/publisher.go
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Artifact 는 S3 로 올릴 결과물 하나 (보고서 JSON, markdown, snapshot).
type Artifact struct {
	Name        string // key 의 마지막 요소
	Body        []byte
	ContentType string
}

// PublishResult : 올라간 key 와, 실패해서 spool 로 간 key.
type PublishResult struct {
	Uploaded []string
	Spooled  []string
}

// Publisher
//
// 지난 실행에서 남은 spool 을 먼저 비우고, 이번 실행의 결과물을
// <prefix>/dt=YYYY-MM-DD/hr=HH/<runID>/<name> 으로 올린다.
// 업로드에 실패한 결과물은 spool 에 저장되어 다음 실행에서 재시도된다.
type Publisher struct {
	uploader *S3Uploader
	spool    *Spool
	prefix   string

	now func() time.Time
}

func NewPublisher(uploader *S3Uploader, spool *Spool, prefix string) *Publisher {
	return &Publisher{
		uploader: uploader,
		spool:    spool,
		prefix:   prefix,
		now:      time.Now,
	}
}

// Key 는 runID 디렉토리 아래의 object key 를 만든다.
func (p *Publisher) Key(runID, name string) string {
	return BuildS3Key(p.prefix, runID+"/"+name, p.now())
}

// Publish
//
// spool flush 실패는 경고만 남기고 계속 진행한다.
// 에러는 업로드도 spool 저장도 실패한 결과물이 있을 때만 돌려준다.
func (p *Publisher) Publish(ctx context.Context, runID string, artifacts ...Artifact) (PublishResult, error) {
	var res PublishResult

	if p.spool != nil {
		if n, err := p.spool.Flush(ctx); err != nil {
			log.Warn().Err(err).Int("uploaded", n).Int("pending", p.spool.Pending()).Msg("spool flush stopped")
		} else if n > 0 {
			log.Info().Int("uploaded", n).Msg("spool flushed")
		}
	}

	var lost []string
	for _, a := range artifacts {
		key := p.Key(runID, a.Name)

		err := p.uploader.UploadBytesWithRetryCtx(ctx, key, a.Body, a.ContentType)
		if err == nil {
			res.Uploaded = append(res.Uploaded, key)
			log.Info().Str("key", key).Int("bytes", len(a.Body)).Msg("artifact uploaded")
			continue
		}

		if p.spool == nil {
			lost = append(lost, key)
			continue
		}
		if serr := p.spool.Save(key, a.Body, a.ContentType); serr != nil {
			log.Error().Err(serr).Str("key", key).Msg("spool save failed")
			lost = append(lost, key)
			continue
		}
		res.Spooled = append(res.Spooled, key)
	}

	if len(lost) > 0 {
		return res, fmt.Errorf("publish: %d artifacts neither uploaded nor spooled: %v", len(lost), lost)
	}
	return res, nil
}
