package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mvaleed/levellog/internal/config"
	"github.com/mvaleed/levellog/internal/level"
	"github.com/mvaleed/levellog/internal/logger"
	"github.com/mvaleed/levellog/internal/storage"
)

type rootFlags struct {
	configPath string
	file       string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "levellog",
		Short: "Write and inspect log files kept in severity order",
		Long: `levellog stores log entries grouped by severity: all critical entries first,
then errors, warnings, info and debug, each group in arrival order.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupSlog(flags.verbose)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVarP(&flags.file, "file", "f", "", "log file, overrides log_file_path")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log engine events to stderr")

	rootCmd.AddCommand(
		newWriteCmd(flags),
		newDumpCmd(flags),
		newCheckCmd(flags),
		newSegmentsCmd(flags),
		newBenchCmd(flags),
	)
	return rootCmd
}

func (f *rootFlags) load() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.file != "" {
		cfg.LogFilePath = f.file
	}
	if err := cfg.ResolveTargetDir(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// logPath picks the file argument of inspection commands, falling back to
// the configured path.
func (f *rootFlags) logPath(args []string) (*config.Config, string, error) {
	cfg, err := f.load()
	if err != nil {
		return nil, "", err
	}
	if len(args) > 0 {
		return cfg, args[0], nil
	}
	return cfg, cfg.LogFilePath, nil
}

func newWriteCmd(flags *rootFlags) *cobra.Command {
	var lvlName string

	cmd := &cobra.Command{
		Use:   "write [message] [additional info...]",
		Short: "Format and write one entry",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := level.ParseLevel(lvlName)
			if err != nil {
				return err
			}
			cfg, err := flags.load()
			if err != nil {
				return err
			}

			l, err := logger.New(cfg)
			if err != nil {
				return err
			}
			info := make([]any, 0, len(args)-1)
			for _, a := range args[1:] {
				info = append(info, a)
			}
			return errors.Join(l.LogLevel(lvl, args[0], info...), l.Close())
		},
	}
	cmd.Flags().StringVarP(&lvlName, "level", "l", "info", "critical, error, warn, info or debug")
	return cmd
}

func newDumpCmd(flags *rootFlags) *cobra.Command {
	var head int

	cmd := &cobra.Command{
		Use:   "dump [log file]",
		Short: "Print the records of a log file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := flags.logPath(args)
			if err != nil {
				return err
			}
			enc, err := cfg.Encoding()
			if err != nil {
				return err
			}
			return storage.DumpFile(cmd.OutOrStdout(), path, enc, head)
		},
	}
	cmd.Flags().IntVarP(&head, "head", "n", 0, "print at most n records, 0 prints all")
	return cmd
}

func newCheckCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check [log file]",
		Short: "Verify that a log file is ordered by severity and print its blocks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := flags.logPath(args)
			if err != nil {
				return err
			}
			enc, err := cfg.Encoding()
			if err != nil {
				return err
			}
			table, err := storage.CheckFile(path, enc)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, lvl := range level.All() {
				fmt.Fprintf(out, "%-8s [%d, %d)\n", lvl, table.Start(lvl), table.Offset(lvl))
			}
			fmt.Fprintf(out, "OK %d bytes\n", table.Size())
			return nil
		},
	}
}

func newSegmentsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "segments [log file]",
		Short: "List rotated files of a log, oldest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, path, err := flags.logPath(args)
			if err != nil {
				return err
			}
			segments, err := storage.Segments(path)
			if err != nil {
				return err
			}
			for _, s := range segments {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", s.Seq, filepath.Base(s.Path))
			}
			return nil
		},
	}
}

func newBenchCmd(flags *rootFlags) *cobra.Command {
	var writers, entries, size int

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Write concurrently from every level and verify the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			opts, err := cfg.ToOptions(nil)
			if err != nil {
				return err
			}
			log, err := storage.Open(cfg.LogFilePath, opts)
			if err != nil {
				return err
			}

			elapsed, err := runBench(cmd.Context(), log, writers, entries, size)
			if err := errors.Join(err, log.Close()); err != nil {
				return err
			}

			total := writers * entries * level.Count
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d entries in %s (%.0f entries/s)\n",
				total, elapsed.Round(time.Millisecond), float64(total)/elapsed.Seconds())

			if !cfg.OrderEntriesByLogLevel {
				return nil
			}
			enc, err := cfg.Encoding()
			if err != nil {
				return err
			}
			table, err := storage.CheckFile(cfg.LogFilePath, enc)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "ordered OK, %d bytes\n", table.Size())
			return nil
		},
	}
	cmd.Flags().IntVarP(&writers, "writers", "w", 2, "writers per level")
	cmd.Flags().IntVarP(&entries, "entries", "e", 100, "entries per writer")
	cmd.Flags().IntVarP(&size, "size", "s", 100, "entry size in bytes")
	return cmd
}

func runBench(ctx context.Context, log *storage.Log, writers, entries, size int) (time.Duration, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	g, ctx := errgroup.WithContext(ctx)

	start := time.Now()
	for _, lvl := range level.All() {
		for w := range writers {
			g.Go(func() error {
				for i := range entries {
					if err := ctx.Err(); err != nil {
						return err
					}
					if err := log.Write(lvl, benchEntry(lvl, w, i, size)); err != nil {
						return err
					}
				}
				return nil
			})
		}
	}
	err := g.Wait()
	return time.Since(start), err
}

func benchEntry(lvl level.Level, writer, i, size int) string {
	prefix := fmt.Sprintf("%s w%d #%d ", lvl, writer, i)
	if len(prefix) >= size {
		return prefix
	}
	b := make([]byte, size)
	copy(b, prefix)
	for j := len(prefix); j < size; j++ {
		b[j] = 'a' + byte(j%26)
	}
	return string(b)
}
