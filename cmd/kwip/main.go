// Package main provides the kwip CLI entry point.
package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hupe1980/kwip"
	"github.com/hupe1980/kwip/checkpoint"
	"github.com/hupe1980/kwip/codec"
	"github.com/hupe1980/kwip/internal/fs"
	"github.com/hupe1980/kwip/metric"
	"github.com/hupe1980/kwip/sketch"
)

var commit = "dev" // Set via ldflags: -X main.commit=$(git rev-parse --short HEAD)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kwip",
		Short: "kwip - pairwise kernels and distances between k-mer sketches",
		Long: `kwip compares k-mer count sketches of sequencing samples and writes
the pairwise kernel and distance matrices.

Sketches are read block by block from local files, S3 or MinIO. Long runs
can be checkpointed and resumed.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "config file (default ./kwip.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log every comparison")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "only log warnings and errors")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text or json")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kwip v%s (%s)\n", kwip.Version, commit)
		},
	})

	rootCmd.AddCommand(newRunCmd(), newInfoCmd(), newImportCmd())
	return rootCmd
}

func addStoreFlags(f *pflag.FlagSet) {
	f.String("store", "local", "sketch store: local, s3 or minio")
	f.String("bucket", "", "bucket of a remote store")
	f.String("prefix", "", "key prefix inside the bucket")
	f.String("endpoint", "", "endpoint of a MinIO or S3-compatible store")
	f.String("region", "", "S3 region (default from the AWS config)")
	f.String("access-key", "", "MinIO access key")
	f.String("secret-key", "", "MinIO secret key")
	f.Bool("insecure", false, "connect to MinIO without TLS")
	f.String("block-cache", "256M", "block cache in front of a remote store, 0 to disable")
	f.String("dataset", sketch.DefaultDataset, "dataset name inside sketch files")
}

func configFor(cmd *cobra.Command) (*Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	return loadConfig(configPath, cmd.Flags())
}

func newLogger(cfg *Config, w io.Writer) *kwip.Logger {
	level := slog.LevelInfo
	switch {
	case cfg.Verbose:
		level = slog.LevelDebug
	case cfg.Quiet:
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return kwip.NewLogger(slog.NewJSONHandler(w, opts))
	}
	return kwip.NewLogger(slog.NewTextHandler(w, opts))
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [flags] SKETCH...",
		Short: "Compute the pairwise matrix of a set of sketches",
		Long: `Compute the pairwise kernel or distance matrix of a set of sketches.

Kernel metrics write the raw kernel with --kernel-out and the distance
derived from the normalised kernel with --distance-out. Without either
flag the distance matrix is written to stdout.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFor(cmd)
			if err != nil {
				return err
			}
			return runCompute(cmd.Context(), cmd, cfg, args)
		},
	}

	f := cmd.Flags()
	f.StringP("metric", "m", "wip", "metric: "+strings.Join(metric.Names(), ", "))
	f.IntP("threads", "t", 0, "concurrent comparisons (0 = number of CPUs)")
	f.Int("cache-size", 0, "sketches kept in memory (0 = 2*threads+1)")
	f.Bool("stream", false, "stream sketches block by block instead of loading them")
	f.Bool("abort-on-error", true, "stop after the first failed comparison")
	f.String("memory-limit", "", "memory for loaded sketches, e.g. 8G")
	f.String("io-limit", "", "sketch read throughput per second, e.g. 200M")
	f.Int64("max-loads", 0, "concurrent sketch loads (0 = unlimited)")
	f.StringP("checkpoint-dir", "c", "", "record comparisons in this directory")
	f.String("checkpoint-format", string(checkpoint.FormatTSV), "checkpoint store: tsv, badger or dynamodb")
	f.String("checkpoint-table", "", "DynamoDB table of the dynamodb checkpoint store")
	f.Bool("resume", false, "skip comparisons recorded in --checkpoint-dir")
	f.StringP("kernel-out", "k", "", "write the kernel matrix to this file")
	f.StringP("distance-out", "d", "", "write the distance matrix to this file")
	f.StringP("weights", "w", "", "wip bin weights: loaded if the file exists, saved otherwise")
	addStoreFlags(f)
	return cmd
}

func runCompute(ctx context.Context, cmd *cobra.Command, cfg *Config, paths []string) error {
	logger := newLogger(cfg, cmd.ErrOrStderr())

	store, err := openStore(ctx, cfg.StoreConfig)
	if err != nil {
		return err
	}
	memLimit, err := parseSize(cfg.MemoryLimit)
	if err != nil {
		return fmt.Errorf("memory-limit: %w", err)
	}
	ioLimit, err := parseSize(cfg.IOLimit)
	if err != nil {
		return fmt.Errorf("io-limit: %w", err)
	}

	opts := []kwip.Option{
		kwip.WithLogger(logger),
		kwip.WithStore(store),
		kwip.WithDataset(cfg.Dataset),
		kwip.WithWorkers(cfg.Threads),
		kwip.WithCacheCapacity(cfg.CacheSize),
		kwip.WithStreaming(cfg.Stream),
		kwip.WithAbortOnError(cfg.AbortOnError),
		kwip.WithMemoryLimit(memLimit),
		kwip.WithIOLimit(ioLimit),
		kwip.WithMaxConcurrentLoads(cfg.MaxLoads),
	}
	switch format := checkpoint.Format(cfg.CheckpointFormat); {
	case cfg.CheckpointDir == "":
	case format == checkpoint.FormatDynamoDB:
		client, err := newDynamoClient(ctx, cfg)
		if err != nil {
			return err
		}
		opts = append(opts,
			kwip.WithDynamoCheckpoint(cfg.CheckpointDir, client, cfg.CheckpointTable),
			kwip.WithResume(cfg.Resume),
		)
	default:
		opts = append(opts,
			kwip.WithCheckpointDir(cfg.CheckpointDir, format),
			kwip.WithResume(cfg.Resume),
		)
	}

	m, err := metric.ByName(cfg.Metric)
	if err != nil {
		return fmt.Errorf("%w: %w", kwip.ErrConfiguration, err)
	}
	saveWeights, err := loadWeights(m, cfg.Weights)
	if err != nil {
		return err
	}

	calc, err := kwip.New(m, opts...)
	if err != nil {
		return err
	}
	defer calc.Close()

	for _, p := range paths {
		if _, err := calc.AddSample(p); err != nil {
			return err
		}
	}

	res, err := calc.Compute(ctx)
	if err != nil {
		return err
	}
	if saveWeights {
		if err := writeOutput(cfg.Weights, m.(*metric.WIP).SaveWeights); err != nil {
			return err
		}
		logger.Info("weights saved", "path", cfg.Weights)
	}

	if cfg.KernelOut == "" && cfg.DistanceOut == "" {
		return res.WriteDistance(cmd.OutOrStdout())
	}
	if cfg.KernelOut != "" {
		if res.Kernel == nil {
			logger.Warn("metric has no kernel, skipping kernel output", "metric", cfg.Metric)
		} else if err := writeOutput(cfg.KernelOut, res.WriteKernel); err != nil {
			return err
		}
	}
	if cfg.DistanceOut != "" {
		if err := writeOutput(cfg.DistanceOut, res.WriteDistance); err != nil {
			return err
		}
	}
	return nil
}

// loadWeights installs the WIP bin weights stored at path. It reports
// true when the file does not exist yet, so the run saves its own weights
// there.
func loadWeights(m metric.Metric, path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	w, ok := m.(*metric.WIP)
	if !ok {
		return false, fmt.Errorf("%w: --weights needs the wip metric, not %s", kwip.ErrConfiguration, m.Name())
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()
	if err := w.LoadWeights(f); err != nil {
		return false, fmt.Errorf("load %s: %w", path, err)
	}
	return false, nil
}

func writeOutput(path string, write func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		return err
	}
	if err := fs.WriteFileAtomic(fs.Default, path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func newInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info SKETCH...",
		Short: "Print sketch headers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFor(cmd)
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg.StoreConfig)
			if err != nil {
				return err
			}

			output, _ := cmd.Flags().GetString("output")
			var enc codec.Codec
			if output != "table" {
				if enc, err = codec.ByName(output); err != nil {
					return err
				}
			}

			infos := make([]sketchInfo, 0, len(args))
			for _, p := range args {
				r, err := sketch.Open(cmd.Context(), store, p, cfg.Dataset)
				if err != nil {
					return err
				}
				infos = append(infos, newSketchInfo(p, r.Header()))
				_ = r.Close()
			}

			if enc != nil {
				b, err := enc.Marshal(infos)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(b)
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tK\tTABLES\tLENGTH\tELEM\tCOMPRESSION\tBLOCK SIZE\tBLOCKS")
			for _, i := range infos {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%s\t%d\t%d\n",
					i.Name, i.K, i.Tables, i.Length, i.Elem, i.Compression, i.BlockSize, i.Blocks)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringP("output", "o", "table", "output format: table, json or yaml")
	addStoreFlags(cmd.Flags())
	return cmd
}

type sketchInfo struct {
	Name        string `json:"name" yaml:"name"`
	Path        string `json:"path" yaml:"path"`
	Dataset     string `json:"dataset" yaml:"dataset"`
	K           uint32 `json:"k" yaml:"k"`
	Tables      uint32 `json:"tables" yaml:"tables"`
	Length      uint64 `json:"length" yaml:"length"`
	Elem        string `json:"elem" yaml:"elem"`
	Compression string `json:"compression" yaml:"compression"`
	BlockSize   uint32 `json:"block_size" yaml:"block_size"`
	Blocks      uint64 `json:"blocks" yaml:"blocks"`
}

func newSketchInfo(path string, h sketch.Header) sketchInfo {
	return sketchInfo{
		Name:        sketch.DisplayName(path),
		Path:        path,
		Dataset:     h.Dataset,
		K:           h.K,
		Tables:      h.Tables,
		Length:      h.Length,
		Elem:        h.Elem.String(),
		Compression: h.Compression.String(),
		BlockSize:   h.BlockSize,
		Blocks:      h.NumBlocks(),
	}
}

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [flags] SKETCH COUNTS_FILE",
		Short: "Write a sketch from a text file of counts",
		Long: `Write a sketch from a text file holding one count per bin, separated
by whitespace. Use - to read the counts from stdin.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFor(cmd)
			if err != nil {
				return err
			}
			h, err := importHeader(cmd.Flags(), cfg.Dataset)
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if args[1] != "-" {
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			counts, err := readCounts(in)
			if err != nil {
				return fmt.Errorf("read %s: %w", args[1], err)
			}

			store, err := openStore(cmd.Context(), cfg.StoreConfig)
			if err != nil {
				return err
			}
			if err := sketch.Save(cmd.Context(), store, args[0], h, counts); err != nil {
				return err
			}
			newLogger(cfg, cmd.ErrOrStderr()).Info("sketch written",
				"path", args[0], "length", len(counts), "compression", h.Compression.String())
			return nil
		},
	}

	f := cmd.Flags()
	f.Uint32P("ksize", "K", 21, "k-mer length the counts were built with")
	f.Uint32("tables", 1, "number of hash tables")
	f.String("block-size", "1M", "elements per stored block")
	f.String("compression", sketch.CompressionLZ4.String(), "block codec: none, lz4 or zstd")
	f.String("elem", sketch.ElemUint32.String(), "stored count width: u8, u16 or u32")
	addStoreFlags(f)
	return cmd
}

func importHeader(f *pflag.FlagSet, dataset string) (sketch.Header, error) {
	k, _ := f.GetUint32("ksize")
	tables, _ := f.GetUint32("tables")
	bs, _ := f.GetString("block-size")
	codec, _ := f.GetString("compression")
	elemName, _ := f.GetString("elem")

	blockSize, err := parseSize(bs)
	if err != nil {
		return sketch.Header{}, fmt.Errorf("block-size: %w", err)
	}
	if blockSize <= 0 || blockSize > 1<<31 {
		return sketch.Header{}, fmt.Errorf("block-size %q out of range", bs)
	}
	compression, err := sketch.ParseCompression(codec)
	if err != nil {
		return sketch.Header{}, err
	}
	var elem sketch.ElemType
	for _, e := range []sketch.ElemType{sketch.ElemUint8, sketch.ElemUint16, sketch.ElemUint32} {
		if e.String() == elemName {
			elem = e
		}
	}
	if elem == 0 {
		return sketch.Header{}, fmt.Errorf("unknown element type %q", elemName)
	}

	return sketch.Header{
		Dataset:     dataset,
		Elem:        elem,
		Compression: compression,
		K:           k,
		Tables:      tables,
		BlockSize:   uint32(blockSize),
	}, nil
}

func readCounts(r io.Reader) ([]uint32, error) {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)

	var counts []uint32
	for sc.Scan() {
		v, err := strconv.ParseUint(sc.Text(), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("count %d: %w", len(counts)+1, err)
		}
		counts = append(counts, uint32(v))
	}
	return counts, sc.Err()
}
