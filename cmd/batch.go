package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contact-engine/internal/model"
)

var batchConcurrency int

var batchCmd = &cobra.Command{
	Use:   "batch <records.ndjson>",
	Short: "Ingest a batch of records from an NDJSON file",
	Long:  "Reads one raw record per line and processes the batch through a bounded worker pool. Individual record failures are reported in the summary without aborting the batch.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := readRecords(args[0])
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return eris.Errorf("no records in %s", args[0])
		}

		if batchConcurrency > 0 {
			cfg.Batch.MaxConcurrentContacts = batchConcurrency
		}

		env, err := initEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		summary := env.Engine.IngestBatch(cmd.Context(), records)

		out, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return eris.Wrap(err, "marshal summary")
		}
		fmt.Println(string(out))

		if len(summary.Errors) > 0 {
			zap.L().Warn("batch finished with errors", zap.Int("errors", len(summary.Errors)))
		}
		return nil
	},
}

// readRecords parses an NDJSON file of raw records, skipping blank lines.
func readRecords(path string) ([]model.RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	var records []model.RawRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		var rec model.RawRecord
		if err := json.Unmarshal(text, &rec); err != nil {
			return nil, eris.Wrapf(err, "parse %s line %d", path, line)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	return records, nil
}

func init() {
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "worker pool size (default from config)")
	rootCmd.AddCommand(batchCmd)
}
