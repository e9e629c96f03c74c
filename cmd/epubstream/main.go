package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yuanying/epubstream/internal/catalog"
	"github.com/yuanying/epubstream/internal/config"
	"github.com/yuanying/epubstream/internal/content"
	"github.com/yuanying/epubstream/internal/cover"
	"github.com/yuanying/epubstream/internal/extract"
	"github.com/yuanying/epubstream/internal/storage"
)

const (
	defaultConfigPath = "epubstream.yaml"
	defaultLogLevel   = "info"
	defaultLogFormat  = "text"
)

// cliOptions is everything a subcommand needs, resolved from the config
// file and the persistent flags.
type cliOptions struct {
	Root   string
	Config *config.Config
	Logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "epubstream",
		Short: "Stream EPUB books as plain text on a small reader",
		Long: `epubstream scans a books directory, extracts chapter text in bounded
chunks and renders 1-bit cover thumbnails, the way a memory-constrained
e-reader consumes its SD card.`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.String("config", defaultConfigPath, "YAML configuration file (missing file means defaults)")
	pf.String("root", ".", "Storage root directory")
	pf.String("books-dir", "", "Books directory below the storage root (overrides config)")
	pf.Int("chunk-capacity", 0, "Text chunk capacity in bytes (overrides config)")
	pf.String("log-level", defaultLogLevel, "Log level: debug, info, warn, error")
	pf.String("log-format", defaultLogFormat, "Log format: text, json")
	pf.BoolP("verbose", "v", false, "Enable debug logging (overrides --log-level)")

	root.AddCommand(newScanCmd(), newReadCmd(), newCoverCmd(), newInspectCmd(), newShellCmd())
	return root
}

func readCLIOptions(cmd *cobra.Command) (*cliOptions, error) {
	flags := cmd.Flags()
	configPath, _ := flags.GetString("config")
	root, _ := flags.GetString("root")
	booksDir, _ := flags.GetString("books-dir")
	chunkCapacity, _ := flags.GetInt("chunk-capacity")
	logLevel, _ := flags.GetString("log-level")
	logFormat, _ := flags.GetString("log-format")
	verbose, _ := flags.GetBool("verbose")

	logLevel = strings.ToLower(strings.TrimSpace(logLevel))
	if _, ok := parseLogLevel(logLevel); !ok {
		return nil, fmt.Errorf("invalid --log-level %q: must be one of debug, info, warn, error", logLevel)
	}
	logFormat = strings.ToLower(strings.TrimSpace(logFormat))
	if logFormat != "text" && logFormat != "json" {
		return nil, fmt.Errorf("invalid --log-format %q: must be text or json", logFormat)
	}
	if verbose {
		logLevel = "debug"
	}

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, err
	}
	if flags.Changed("books-dir") {
		cfg.BooksDir = booksDir
	}
	if flags.Changed("chunk-capacity") {
		cfg.ChunkCapacity = chunkCapacity
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}

	return &cliOptions{
		Root:   root,
		Config: cfg,
		Logger: buildLogger(cmd.ErrOrStderr(), logLevel, logFormat),
	}, nil
}

func parseLogLevel(level string) (slog.Level, bool) {
	switch level {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

func buildLogger(w io.Writer, level, format string) *slog.Logger {
	lvl, _ := parseLogLevel(strings.ToLower(level))
	handlerOpts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// bootOptions maps the configuration onto the pipeline's options.
func (o *cliOptions) bootOptions() (content.BootOptions, error) {
	cfg := o.Config
	fallback, err := cfg.FallbackTable()
	if err != nil {
		return content.BootOptions{}, err
	}
	coverOpts := cover.Options{
		Width:    cfg.ThumbWidth,
		Height:   cfg.ThumbHeight,
		MaxBytes: cfg.MaxCoverBytes,
		Logger:   o.Logger,
	}
	return content.BootOptions{
		BooksDir: cfg.BooksDir,
		Scanner: catalog.ScannerOptions{
			Capacity: cfg.CatalogCapacity,
			Patterns: cfg.Patterns,
			Cover:    coverOpts,
			Logger:   o.Logger,
		},
		Source: content.Options{
			Extract: extract.Options{
				ChunkCapacity: cfg.ChunkCapacity,
				MaxEntityLen:  cfg.MaxEntityLen,
				Entities:      cfg.Entities,
				Logger:        o.Logger,
			},
			Fallback: fallback,
			Cover:    coverOpts,
			LowWater: cfg.LowWaterWords,
			Logger:   o.Logger,
		},
		Logger: o.Logger,
	}, nil
}

func (o *cliOptions) boot(ctx context.Context) (content.Source, error) {
	opts, err := o.bootOptions()
	if err != nil {
		return nil, err
	}
	return content.Boot(ctx, storage.NewDir(o.Root), opts)
}

func bootFromCmd(cmd *cobra.Command) (content.Source, *cliOptions, error) {
	opts, err := readCLIOptions(cmd)
	if err != nil {
		return nil, nil, err
	}
	src, err := opts.boot(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	return src, opts, nil
}

func parseIndex(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid book index %q", arg)
	}
	return n, nil
}

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "List the books found in the books directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, _, err := bootFromCmd(cmd)
			if err != nil {
				return err
			}
			defer src.Close()
			printCatalog(cmd.OutOrStdout(), src.Catalog())
			return nil
		},
	}
}

func printCatalog(w io.Writer, cat *catalog.Catalog) {
	if cat.Len() == 0 {
		fmt.Fprintln(w, "no books found")
		return
	}
	for _, e := range cat.Entries() {
		mark := " "
		if e.HasCover {
			mark = "*"
		}
		line := fmt.Sprintf("%3d %s %s", e.Index, mark, e.Title)
		if !e.Available {
			line += fmt.Sprintf(" [%s]", e.Status)
		}
		fmt.Fprintln(w, line)
	}
}

func newReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <index>",
		Short: "Print the text of a book word by word",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			chapter, _ := cmd.Flags().GetInt("chapter")
			limit, _ := cmd.Flags().GetInt("words")

			src, _, err := bootFromCmd(cmd)
			if err != nil {
				return err
			}
			defer src.Close()

			if err := src.Select(index); err != nil {
				return err
			}
			if cmd.Flags().Changed("chapter") {
				if err := seekChapter(src, chapter); err != nil {
					return err
				}
			}
			_, err = printWords(cmd.OutOrStdout(), src, limit)
			return err
		},
	}
	cmd.Flags().IntP("chapter", "c", 0, "Start at this chapter (spine index)")
	cmd.Flags().IntP("words", "n", 0, "Stop after this many words (0 reads to the end)")
	return cmd
}

func seekChapter(src content.Source, chapter int) error {
	for {
		arrived, err := src.SeekChapter(chapter)
		if err != nil {
			return err
		}
		if arrived {
			return nil
		}
	}
}

// printWords writes up to limit words (all when limit is 0), breaking lines
// at paragraph starts. It returns the number of words written.
func printWords(w io.Writer, src content.Source, limit int) (int, error) {
	count := 0
	for limit <= 0 || count < limit {
		word, ok := src.NextWord()
		if !ok {
			break
		}
		if word.Placeholder {
			if err := src.Step(); err != nil {
				return count, err
			}
			continue
		}
		sep := " "
		switch {
		case count == 0:
			sep = ""
		case src.Position().Word == 1:
			sep = "\n"
		}
		if _, err := fmt.Fprint(w, sep, word.Text); err != nil {
			return count, err
		}
		count++
	}
	if count > 0 {
		fmt.Fprintln(w)
	}
	return count, nil
}

func newCoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cover <index>",
		Short: "Render a book's cover thumbnail as a PBM file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			output, _ := cmd.Flags().GetString("output")

			src, opts, err := bootFromCmd(cmd)
			if err != nil {
				return err
			}
			defer src.Close()

			thumb, status, err := src.Cover(index)
			if err != nil {
				return err
			}
			if output == "" {
				output = fmt.Sprintf("cover-%d.pbm", index)
			}
			if err := os.WriteFile(output, thumb.PBM(), 0o644); err != nil {
				return fmt.Errorf("failed to write thumbnail: %w", err)
			}
			opts.Logger.Info("thumbnail written", "path", output, "status", status.String(),
				"width", thumb.Width, "height", thumb.Height)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "Output file path (default: cover-<index>.pbm)")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
