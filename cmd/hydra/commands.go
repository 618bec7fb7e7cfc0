package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hydra-ops/hydra/internal/model"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the consumer, the retrain scheduler and the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, log, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Run(cmd.Context()); err != nil {
				log.Error().Err(err).Msg("hydra stopped")
				return err
			}
			log.Info().Msg("hydra stopped")
			return nil
		},
	}
}

func newProduceCommand() *cobra.Command {
	var (
		count    int
		interval time.Duration
		stdin    bool
	)
	cmd := &cobra.Command{
		Use:   "produce",
		Short: "Publish log entries to the stream",
		Long: `Publish log entries to the configured stream. With --stdin, each input
line is one JSON log entry; otherwise --count sample entries are generated.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, log, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()
			pub := a.Publisher()

			publish := func(e model.LogEntry) error {
				payload, err := model.Encode(e)
				if err != nil {
					return err
				}
				id, err := pub.Publish(ctx, payload)
				if err != nil {
					return err
				}
				log.Info().Stringer("id", id).Str("message", e.Message).Msg("published")
				return nil
			}

			if stdin {
				return produceLines(cmd.InOrStdin(), func(line []byte) error {
					e, err := model.Decode(line)
					if err != nil {
						log.Warn().Err(err).Msg("skipping invalid line")
						return nil
					}
					return publish(e)
				})
			}

			for i := range count {
				if err := publish(sampleEntry(i, time.Now())); err != nil {
					return err
				}
				if i < count-1 {
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(interval):
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 5, "number of sample entries to publish")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "pause between sample entries")
	cmd.Flags().BoolVar(&stdin, "stdin", false, "read JSON log entries from stdin, one per line")
	return cmd
}

func produceLines(r io.Reader, fn func([]byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return sc.Err()
}

// sampleEntry is a labeled request log of the kind the instrumented
// services emit.
func sampleEntry(i int, now time.Time) model.LogEntry {
	label := i % 2
	path := "/api/items"
	return model.LogEntry{
		Timestamp: now.UTC(),
		Level:     model.LevelInfo,
		Message:   fmt.Sprintf("Sample log %d", i),
		Request:   &path,
		Features:  []float64{float64(i % 7), float64(label), float64(i%3) / 3, 1, 0},
		Label:     &label,
	}
}

func newPruneCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Apply the retention policy to the log store once",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Prune(cmd.Context())
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), output, res)
		},
	}
}

func newRetrainCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retrain",
		Short: "Fit and install a model from the log store now",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			info, err := a.Retrain(cmd.Context())
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), output, info)
		},
	}
}

func printResult(w io.Writer, format string, v any) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
