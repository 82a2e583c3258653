package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"audit-aggregator/internal/aggregate"
	"audit-aggregator/internal/snapshot"

	"github.com/spf13/cobra"
)

// exit code
//
//	0 : 성공 (일부 라인 파싱 실패 포함. 실패는 보고서에 집계된다)
//	1 : 입력을 하나도 읽지 못함, 설정/정책 오류, 출력 쓰기 실패
//	2 : --verify 또는 verify 명령의 검증 실패
const (
	exitOK       = 0
	exitFailure  = 1
	exitVerifyKO = 2
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute 는 root 명령을 실행하고 exit code 를 돌려준다.
func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return exitOK
	}
	fmt.Fprintln(root.ErrOrStderr(), "error:", err)
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, snapshot.ErrSnapshot), errors.Is(err, aggregate.ErrInvalidReport):
		return exitVerifyKO
	default:
		return exitFailure
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "aggregator",
		Short:         "Aggregate heterogeneous audit logs into a checksummed report",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "config file (yaml/json/toml)")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(newAggregateCmd(), newVerifyCmd())
	return root
}
