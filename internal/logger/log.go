// internal/logger/log.go
package logger

import (
	"io"
	"os"
	"strings"

	"audit-aggregator/internal/config"

	stdlog "log"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Init
//
// 프로세스 시작 시 한 번 호출한다.
//
//  1. 출력 형태:
//     - AUDITAGG_LOG_PRETTY=true : ConsoleWriter (터미널에서 사람이 읽기 좋게)
//     - 그 외                    : JSON line
//     어느 쪽이든 stderr 로 쓴다. stdout 은 보고서/메트릭 출력용이다.
//
//  2. 모든 로그에 service / instance 필드가 붙는다.
//
//  3. LogSampleN > 1 이면 Debug/Info 는 N 개 중 1 개만 남긴다.
//     Warn/Error 는 샘플링하지 않는다.
func Init(cfg config.Config) {
	InitWriter(cfg, os.Stderr)
}

// InitWriter 는 출력 대상을 지정할 수 있는 Init (테스트용).
func InitWriter(cfg config.Config, out io.Writer) {
	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel))); err == nil && l != zerolog.NoLevel {
		level = l
	}
	zerolog.SetGlobalLevel(level)

	var w io.Writer = out
	if cfg.LogPretty {
		w = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05",
		}
	}

	base := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("instance", cfg.InstanceID).
		Logger()

	logger := base
	if cfg.LogSampleN > 1 {
		logger = base.Sample(&zerolog.LevelSampler{
			DebugSampler: &zerolog.BasicSampler{N: cfg.LogSampleN},
			InfoSampler:  &zerolog.BasicSampler{N: cfg.LogSampleN},
		})
	}

	zlog.Logger = logger

	// 표준 log 패키지 출력도 zerolog 로 보낸다 (AWS SDK 등)
	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog.Logger)
}
