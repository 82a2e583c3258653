package main

import (
	"fmt"
	"os"
	"path/filepath"

	"audit-aggregator/internal/config"
	"audit-aggregator/internal/logger"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// flagBinding : viper key ← cobra flag 이름
type flagBinding struct {
	key  string
	flag string
}

// setup
//
// 명령 공통 초기화.
//  1. --config 파일 + AUDITAGG_* 환경변수 + 기본값으로 viper 생성
//  2. flag 바인딩 (flag 가 명시된 경우에만 우선한다)
//  3. Config 검증 + logger 초기화
func setup(cmd *cobra.Command, bindings ...flagBinding) (config.Config, error) {
	file, _ := cmd.Flags().GetString("config")

	v, err := config.New(file)
	if err != nil {
		return config.Config{}, err
	}

	bindings = append(bindings, flagBinding{"log.level", "log-level"})
	for _, b := range bindings {
		f := cmd.Flags().Lookup(b.flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(b.key, f); err != nil {
			return config.Config{}, fmt.Errorf("bind flag --%s: %w", b.flag, err)
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		return config.Config{}, err
	}

	logger.Init(cfg)
	if used := v.ConfigFileUsed(); used != "" {
		log.Debug().Str("file", used).Msg("config file loaded")
	}
	return cfg, nil
}

// writeOutput 는 상위 디렉토리를 만들고 파일을 쓴다.
func writeOutput(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}
