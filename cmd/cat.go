// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/avroreader/config"
	"github.com/cardinalhq/avroreader/internal/avroschema"
	"github.com/cardinalhq/avroreader/internal/logctx"
	"github.com/cardinalhq/avroreader/internal/splitreader"
)

var (
	catStart     int64
	catLength    int64
	catSplitSize int64
	catParallel  int
	catSchema    string
	catTableFile string
)

var catCmd = &cobra.Command{
	Use:   "cat FILE",
	Short: "Read an Avro container file by split and emit records as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if catSchema == "" {
			catSchema = cfg.Reader.Schema
		}
		if catTableFile == "" {
			catTableFile = cfg.Reader.PartitionFile
		}
		if catSplitSize <= 0 {
			catSplitSize = cfg.Reader.SplitSize
		}
		if catParallel <= 0 {
			catParallel = cfg.Reader.Parallelism
		}

		ctx, cancel := setupLogging("avroreader-cat")
		defer cancel()

		return runCat(ctx, args[0])
	},
}

func init() {
	rootCmd.AddCommand(catCmd)
	catCmd.Flags().Int64Var(&catStart, "start", 0, "split start byte offset")
	catCmd.Flags().Int64Var(&catLength, "length", -1, "split length in bytes, -1 for the rest of the file")
	catCmd.Flags().Int64Var(&catSplitSize, "split-size", 0, "break the range into splits of this many bytes")
	catCmd.Flags().IntVar(&catParallel, "parallel", 0, "number of splits to read concurrently")
	catCmd.Flags().StringVar(&catSchema, "schema", "", "inline reader schema JSON")
	catCmd.Flags().StringVar(&catTableFile, "partition-table", "", "YAML partition table file")
}

func runCat(ctx context.Context, path string) error {
	var table *avroschema.Table
	if catTableFile != "" {
		var err error
		table, err = avroschema.NewTableFromFile(catTableFile)
		if err != nil {
			return err
		}
	}

	readerCfg := splitreader.Config{
		// A partition table makes this a distributed-style read.
		Distributed: table != nil,
		JobSchema:   catSchema,
		Table:       table,
		Resolver:    avroschema.NewResolver(avroschema.WithCache(avroschema.NewCache(0))),
	}

	splits, err := planSplits(path, catStart, catLength, catSplitSize)
	if err != nil {
		return err
	}

	out := bufio.NewWriter(os.Stdout)
	defer func() { _ = out.Flush() }()
	var outMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(catParallel)
	for _, split := range splits {
		g.Go(func() error {
			taskID := uuid.NewString()
			sctx := logctx.WithAttrs(gctx, "taskID", taskID, "split", split.String())
			return readSplit(sctx, readerCfg, split, out, &outMu)
		})
	}
	return g.Wait()
}

// planSplits breaks [start, start+length) into splitSize-long assignments the
// way an orchestrator would. A length of -1 means through end of file.
func planSplits(path string, start, length, splitSize int64) ([]splitreader.Split, error) {
	if splitSize <= 0 {
		return nil, fmt.Errorf("split size must be positive, got %d", splitSize)
	}
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if length < 0 {
		length = st.Size() - start
	}

	var splits []splitreader.Split
	for off := start; off < start+length; off += splitSize {
		l := min(splitSize, start+length-off)
		splits = append(splits, splitreader.Split{Path: path, Start: off, Length: l})
	}
	return splits, nil
}

func readSplit(ctx context.Context, cfg splitreader.Config, split splitreader.Split, out *bufio.Writer, outMu *sync.Mutex) error {
	ll := logctx.FromContext(ctx)

	reader, err := splitreader.NewReader(ctx, cfg, split, nil)
	if err != nil {
		return err
	}

	var errs *multierror.Error
	key := reader.CreateKey()
	value := reader.CreateValue()
	records := 0
	for {
		if err := ctx.Err(); err != nil {
			errs = multierror.Append(errs, err)
			break
		}
		ok, err := reader.Next(key, value)
		if err != nil {
			errs = multierror.Append(errs, err)
			break
		}
		if !ok {
			break
		}
		text, err := reader.Codec().TextualFromNative(nil, value.Value())
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to encode record: %w", err))
			break
		}
		outMu.Lock()
		_, werr := out.Write(append(text, '\n'))
		outMu.Unlock()
		if werr != nil {
			errs = multierror.Append(errs, werr)
			break
		}
		records++
	}

	if err := reader.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to close reader: %w", err))
	}

	ll.Info("Split complete", "records", records, "progress", reader.Progress())
	return errs.ErrorOrNil()
}
