// Command perchbench drives one parallel scan stage over a generated
// in-memory table and reports throughput. It is the manual test harness for
// the exchange and worker-orchestration layer.
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/perchdb/parallel"
	"github.com/perchdb/parallel/execution"
	"github.com/perchdb/parallel/plan"
	"github.com/perchdb/parallel/storage"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "perchbench",
		Short:        "Benchmark the parallel scan exchange",
		SilenceUsage: true,
		RunE:         run,
	}
	cmd.Flags().String("config", "", "optional YAML config file")
	cmd.Flags().Int("rows", 1_000_000, "rows to generate")
	cmd.Flags().Int("partitions", runtime.NumCPU(), "table partitions")
	cmd.Flags().Int("dop", runtime.NumCPU(), "requested degree of parallelism")
	cmd.Flags().Int("ring-bytes", 64<<10, "per-worker ring capacity in bytes")
	cmd.Flags().Int("budget", 4*runtime.NumCPU(), "process-wide worker budget")
	cmd.Flags().Int64("limit", 0, "stop after this many rows (0 = all)")
	cmd.Flags().Bool("ordered", false, "preserve key order across workers")
	return cmd
}

func loadConfig(cmd *cobra.Command) (*koanf.Koanf, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"rows":       1_000_000,
		"partitions": runtime.NumCPU(),
		"dop":        runtime.NumCPU(),
		"ring-bytes": 64 << 10,
		"budget":     4 * runtime.NumCPU(),
	}, "."), nil); err != nil {
		return nil, err
	}
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	if err := k.Load(posflag.Provider(cmd.Flags(), ".", k), nil); err != nil {
		return nil, err
	}
	return k, nil
}

func run(cmd *cobra.Command, _ []string) error {
	k, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := level.NewFilter(
		log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr)),
		level.AllowInfo(),
	)

	rows := k.Int("rows")
	partitions := k.Int("partitions")
	tbl, err := generateTable(rows, partitions)
	if err != nil {
		return err
	}
	level.Info(logger).Log("msg", "table generated",
		"rows", humanize.Comma(int64(rows)), "partitions", partitions)

	gate := &plan.Gate{
		Budget:  plan.NewBudget(k.Int("budget")),
		MinRows: 0,
		MaxDop:  k.Int("budget"),
	}
	p := &plan.ScanPlan{
		Table:         "bench",
		RequestedDop:  k.Int("dop"),
		EstimatedRows: int64(rows),
		Limit:         k.Int64("limit"),
	}
	if k.Bool("ordered") {
		p.Sort = &plan.SortSpec{KeyLen: 8, Numeric: true}
	}

	dop, err := gate.Admit(p, 5*time.Second)
	if err != nil {
		return err
	}
	defer gate.Budget.Release(dop)
	p.RequestedDop = dop

	sess := execution.NewContext(cmd.Context(), logger)
	it, err := parallel.NewParallelScanIterator(
		context.Background(), sess, p, tbl,
		parallel.WithLogger(logger),
		parallel.WithRegisterer(prometheus.NewRegistry()),
		parallel.WithRingCapacity(k.Int("ring-bytes")),
	)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := it.Init(); err != nil {
		return fmt.Errorf("stage init: %w", err)
	}
	var gathered int64
	var bytes int64
	for {
		row, err := it.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			it.End()
			return fmt.Errorf("stage read: %w", err)
		}
		gathered++
		bytes += int64(len(row))
	}
	if err := it.End(); err != nil {
		return fmt.Errorf("stage end: %w", err)
	}
	elapsed := time.Since(start)

	perSec := float64(gathered) / elapsed.Seconds()
	level.Info(logger).Log("msg", "scan complete",
		"dop", dop,
		"rows", humanize.Comma(gathered),
		"bytes", humanize.Bytes(uint64(bytes)),
		"elapsed", elapsed.Round(time.Millisecond),
		"rows_per_sec", humanize.Comma(int64(perSec)),
	)
	return nil
}

// generateTable builds the bench table, sharding row generation across CPUs.
func generateTable(rows, partitions int) (*storage.Table, error) {
	tbl := storage.NewTable("bench", partitions, func(r storage.Row) []byte { return r[:8] })

	g := new(errgroup.Group)
	shards := runtime.NumCPU()
	per := rows / shards
	for s := 0; s < shards; s++ {
		lo := s * per
		hi := lo + per
		if s == shards-1 {
			hi = rows
		}
		g.Go(func() error {
			batch := make([]storage.Row, 0, hi-lo)
			for i := lo; i < hi; i++ {
				row := make([]byte, 64)
				binary.BigEndian.PutUint64(row, uint64(i))
				for j := 8; j < len(row); j++ {
					row[j] = byte(i + j)
				}
				batch = append(batch, row)
			}
			tbl.Append(batch...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tbl, nil
}
