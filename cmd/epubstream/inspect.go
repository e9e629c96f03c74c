package main

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/yuanying/epubstream/internal/catalog"
	"github.com/yuanying/epubstream/internal/epub"
	"github.com/yuanying/epubstream/internal/storage"
	"github.com/yuanying/epubstream/internal/zipentry"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <index>",
		Short: "Show the archive and package document structure of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			src, opts, err := bootFromCmd(cmd)
			if err != nil {
				return err
			}
			defer src.Close()

			entry, ok := src.Catalog().Entry(index)
			if !ok {
				return fmt.Errorf("no book at index %d", index)
			}
			store := storage.NewDir(opts.Root)
			h, err := store.Open(entry.Path)
			if err != nil {
				return err
			}
			defer h.Close()

			pkg, c, err := catalog.OpenBook(h)
			if err != nil {
				return fmt.Errorf("%s: %s: %w", entry.Path, catalog.StatusOf(err), err)
			}
			printPackage(cmd.OutOrStdout(), entry, pkg, c)
			return nil
		},
	}
}

func printPackage(w io.Writer, entry catalog.BookEntry, pkg *epub.OPF, c *zipentry.Container) {
	fmt.Fprintf(w, "File:     %s\n", entry.Path)
	fmt.Fprintf(w, "Title:    %s\n", entry.Title)
	if pkg.Metadata.Language != "" {
		fmt.Fprintf(w, "Language: %s\n", pkg.Metadata.Language)
	}
	fmt.Fprintf(w, "OPF:      %s\n", pkg.Path)

	entries := c.Entries()
	methods := make(map[zipentry.Method]int)
	for _, e := range entries {
		methods[e.Method]++
	}
	fmt.Fprintf(w, "\nArchive: %d entries", len(entries))
	if c.Truncated() {
		fmt.Fprint(w, " (directory truncated)")
	}
	fmt.Fprintln(w)
	for _, m := range sortedKeys(methods) {
		fmt.Fprintf(w, "  %s: %d\n", m, methods[m])
	}

	mediaTypes := make(map[string]int)
	for _, item := range pkg.Manifest {
		mediaTypes[item.MediaType]++
	}
	fmt.Fprintf(w, "\nManifest: %d items\n", len(pkg.Manifest))
	for _, mt := range sortedKeys(mediaTypes) {
		fmt.Fprintf(w, "  %s: %d\n", mt, mediaTypes[mt])
	}

	info, err := pkg.ResolveCover(c.ReadNamed)
	switch {
	case err == nil:
		fmt.Fprintf(w, "\nCover: %s (%s, by %s)\n", info.Href, info.MediaType, info.DetectionMethod)
	case errors.Is(err, epub.ErrNoCoverResource):
		fmt.Fprintln(w, "\nCover: (not found)")
	default:
		fmt.Fprintf(w, "\nCover: %v\n", err)
	}

	toc, err := pkg.LoadTOC(c.ReadNamed)
	switch {
	case err == nil:
		fmt.Fprintf(w, "\nTOC: %s (%s, %d entries)\n", toc.Path, toc.Format, toc.Len())
	case errors.Is(err, epub.ErrNoTOC):
		fmt.Fprintln(w, "\nTOC: (not found)")
	default:
		fmt.Fprintf(w, "\nTOC: %v\n", err)
	}

	chapters := pkg.Chapters()
	labels := toc.Labels(chapters)
	fmt.Fprintf(w, "\nSpine: %d chapters\n", len(chapters))
	for i, ch := range chapters {
		note := ""
		switch {
		case !ch.Readable():
			note = " (skipped: " + ch.MediaType + ")"
		case !ch.Linear:
			note = " (non-linear)"
		}
		fmt.Fprintf(w, "  %3d %-14s %s%s\n", i, labels[i], ch.Href, note)
	}
}

func sortedKeys[K cmp.Ordered](m map[K]int) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
