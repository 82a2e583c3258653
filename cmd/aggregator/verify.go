package main

import (
	"audit-aggregator/internal/aggregate"
	"audit-aggregator/internal/snapshot"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// verifyOutput 는 verify 성공 시 stdout 에 찍는 내용.
type verifyOutput struct {
	Path        string   `json:"path"`
	Version     string   `json:"version"`
	Timestamp   string   `json:"timestamp"`
	Checksum    string   `json:"checksum"`
	TotalEvents *int     `json:"total_events,omitempty"`
	HealthScore *float64 `json:"health_score,omitempty"`
}

func newVerifyCmd() *cobra.Command {
	var dataOnly bool

	cmd := &cobra.Command{
		Use:   "verify <snapshot>",
		Short: "Load a snapshot, check its checksum and validate the report inside",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := setup(cmd); err != nil {
				return err
			}
			path := args[0]

			snap, err := snapshot.Load(path)
			if err != nil {
				log.Error().Err(err).Str("path", path).Msg("snapshot verification failed")
				return err
			}

			out := verifyOutput{
				Path:      path,
				Version:   snap.Metadata.Version,
				Timestamp: snap.Metadata.Timestamp,
				Checksum:  snap.Metadata.Checksum,
			}

			if !dataOnly {
				var rep aggregate.Report
				if err := snap.Decode(&rep); err != nil {
					return &snapshot.Error{Path: path, Op: "decode data", Err: err}
				}
				if err := aggregate.Validate(&rep); err != nil {
					log.Error().Err(err).Str("path", path).Msg("report in snapshot is invalid")
					return err
				}
				out.TotalEvents = &rep.TotalEvents
				out.HealthScore = &rep.HealthScore
			}

			body, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(append(body, '\n'))
			return err
		},
	}

	cmd.Flags().BoolVar(&dataOnly, "data-only", false, "only check envelope and checksum, not the report invariants")
	return cmd
}
