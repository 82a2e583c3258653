// internal/config/config.go
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix : 모든 환경변수는 AUDITAGG_ 로 시작한다 (예: AUDITAGG_QUEUE_SIZE).
const EnvPrefix = "AUDITAGG"

// Config
//
// 집계 실행에 필요한 모든 런타임 파라미터.
// 우선순위: CLI flag > 환경변수 > config 파일 > 기본값 (viper 규칙).
// Load() 이후에는 변경되지 않는 read-only 값이다.
type Config struct {

	// ---------------------------
	// 서비스 식별자 / 로그
	// ---------------------------

	ServiceName string
	InstanceID  string // 호스트명 기반, 실패 시 랜덤 hex
	LogLevel    string
	LogPretty   bool
	LogSampleN  uint32

	// ---------------------------
	// ingestion queue
	// ---------------------------

	QueueSize      int           // queue 최대 크기 (이 이상은 backpressure)
	EnqueueTimeout time.Duration // enqueue 1회 시도당 대기 시간
	EnqueueRetries int           // enqueue 최대 시도 횟수
	DequeueTimeout time.Duration // consumer 가 빈 queue 에서 기다리는 단위 (초과 시 debug 로그)

	// ---------------------------
	// 파싱 / 정책
	// ---------------------------

	Recovery      bool     // fallback 추출 체인 사용 여부
	ParseWorkers  int      // 동시에 파일을 읽고 파싱하는 producer 수
	Patterns      []string // log dir 에서 수집할 파일 glob
	PolicyFile    string   // YAML 정책 파일 (synonym, crossref)
	StalenessDays int      // 이 기간 이상 이벤트가 없는 task 는 stale 경고
	RetentionDays int      // archive / spool 보존 기간

	ArchiveDir string // 비어있으면 archive 안 함

	// ---------------------------
	// S3 publish
	// ---------------------------
	// SDK 자체 retry 는 0 으로 고정하고
	// 재시도 횟수는 애플리케이션 레벨(S3AppRetries)만 사용한다.

	AWSRegion    string
	Bucket       string
	Prefix       string
	S3Timeout    time.Duration // PutObject 1회 시도당 timeout
	S3AppRetries int

	// ---------------------------
	// 로컬 spool (업로드 실패분)
	// ---------------------------

	SpoolDir          string
	SpoolMaxSizeBytes int64
}

// Retention 은 RetentionDays 를 Duration 으로 바꾼다. 0 이하면 무제한.
func (c Config) Retention() time.Duration {
	if c.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// UploadEnabled : bucket 이 설정되어 있어야 S3 publish 를 한다.
func (c Config) UploadEnabled() bool {
	return c.Bucket != ""
}

// SetDefaults 는 모든 키의 기본값을 등록한다.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "audit-aggregator")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.sample_n", 0)

	v.SetDefault("queue.size", 1024)
	v.SetDefault("queue.enqueue_timeout", "2s")
	v.SetDefault("queue.enqueue_retries", 5)
	v.SetDefault("queue.dequeue_timeout", "1s")

	v.SetDefault("parse.recovery", true)
	v.SetDefault("parse.workers", 4)
	v.SetDefault("parse.patterns", "*.json,*.jsonl,*.ndjson,*.log,*.txt,*.gz")

	v.SetDefault("policy.file", "")
	v.SetDefault("policy.staleness_days", 30)
	v.SetDefault("policy.retention_days", 90)

	v.SetDefault("archive.dir", "")

	v.SetDefault("s3.region", "")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.prefix", "audit")
	v.SetDefault("s3.timeout", "5s")
	v.SetDefault("s3.retries", 3)

	v.SetDefault("spool.dir", ".audit-spool")
	v.SetDefault("spool.max_size_bytes", 64<<20)
}

// New
//
// 기본값, 환경변수, (선택) config 파일을 적재한 viper 인스턴스를 만든다.
// flag 바인딩은 호출자(cmd)가 한다.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	return v, nil
}

// Load 는 viper 값으로 Config 를 만들고 검증한다.
// 잘못된 값은 fail-fast 로 거절하고 에러를 돌려준다.
func Load(v *viper.Viper) (Config, error) {
	c := Config{
		ServiceName: v.GetString("service.name"),
		InstanceID:  fallbackInstanceID(),
		LogLevel:    v.GetString("log.level"),
		LogPretty:   v.GetBool("log.pretty"),
		LogSampleN:  v.GetUint32("log.sample_n"),

		QueueSize:      v.GetInt("queue.size"),
		EnqueueTimeout: v.GetDuration("queue.enqueue_timeout"),
		EnqueueRetries: v.GetInt("queue.enqueue_retries"),
		DequeueTimeout: v.GetDuration("queue.dequeue_timeout"),

		Recovery:      v.GetBool("parse.recovery"),
		ParseWorkers:  v.GetInt("parse.workers"),
		Patterns:      stringList(v.Get("parse.patterns")),
		PolicyFile:    v.GetString("policy.file"),
		StalenessDays: v.GetInt("policy.staleness_days"),
		RetentionDays: v.GetInt("policy.retention_days"),

		ArchiveDir: v.GetString("archive.dir"),

		AWSRegion:    v.GetString("s3.region"),
		Bucket:       v.GetString("s3.bucket"),
		Prefix:       strings.Trim(v.GetString("s3.prefix"), "/"),
		S3Timeout:    v.GetDuration("s3.timeout"),
		S3AppRetries: v.GetInt("s3.retries"),

		SpoolDir:          v.GetString("spool.dir"),
		SpoolMaxSizeBytes: v.GetInt64("spool.max_size_bytes"),
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	switch {
	case c.QueueSize <= 0:
		return fmt.Errorf("queue.size must be positive, got %d", c.QueueSize)
	case c.EnqueueTimeout <= 0:
		return fmt.Errorf("queue.enqueue_timeout must be positive, got %s", c.EnqueueTimeout)
	case c.EnqueueRetries <= 0:
		return fmt.Errorf("queue.enqueue_retries must be positive, got %d", c.EnqueueRetries)
	case c.DequeueTimeout <= 0:
		return fmt.Errorf("queue.dequeue_timeout must be positive, got %s", c.DequeueTimeout)
	case c.ParseWorkers <= 0:
		return fmt.Errorf("parse.workers must be positive, got %d", c.ParseWorkers)
	case len(c.Patterns) == 0:
		return fmt.Errorf("parse.patterns must not be empty")
	case c.StalenessDays < 0 || c.RetentionDays < 0:
		return fmt.Errorf("policy.staleness_days and policy.retention_days must not be negative")
	case c.UploadEnabled() && c.S3AppRetries <= 0:
		return fmt.Errorf("s3.retries must be positive when s3.bucket is set")
	case c.UploadEnabled() && c.S3Timeout <= 0:
		return fmt.Errorf("s3.timeout must be positive when s3.bucket is set")
	}
	return nil
}

// stringList : "a,b" 형태의 env 값과 YAML list 모두 허용한다.
func stringList(raw any) []string {
	var items []string
	switch x := raw.(type) {
	case string:
		items = strings.Split(x, ",")
	case []string:
		items = x
	case []any:
		for _, it := range x {
			items = append(items, fmt.Sprint(it))
		}
	}

	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

// fallbackInstanceID
//
// 이 프로세스를 식별하는 값. archive / spool 파일명에 들어간다.
//   - 기본: hostname
//   - fallback: 12자리 랜덤 hex
func fallbackInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return sanitizeID(h)
	}
	var b [6]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}

// 파일명에 쓰이므로 '_' 와 경로 구분자는 '-' 로 바꾼다.
func sanitizeID(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '_', '/', '\\', ' ':
			return '-'
		}
		return r
	}, s)
}
