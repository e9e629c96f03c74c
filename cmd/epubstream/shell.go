package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/yuanying/epubstream/internal/content"
)

const defaultPageWords = 40

type shellCommand struct {
	Name        string
	Description string
	MinArgs     int
	MaxArgs     int
	NeedsBook   bool
	Run         func(sh *shell, args []string) error
}

var shellCommands = []*shellCommand{
	{Name: "list", Description: "list the catalog", Run: (*shell).list},
	{Name: "open", Description: "open book <index>", MinArgs: 1, MaxArgs: 1, Run: (*shell).open},
	{Name: "next", Description: "print the next [n] words", MaxArgs: 1, NeedsBook: true, Run: (*shell).next},
	{Name: "chapters", Description: "list the chapters of the open book", NeedsBook: true, Run: (*shell).chapters},
	{Name: "chapter", Description: "jump to chapter <index>", MinArgs: 1, MaxArgs: 1, NeedsBook: true, Run: (*shell).chapter},
	{Name: "where", Description: "show the reading position", NeedsBook: true, Run: (*shell).where},
	{Name: "cover", Description: "write the cover of book <index> to [file]", MinArgs: 1, MaxArgs: 2, Run: (*shell).cover},
	{Name: "help", Description: "show this help"},
	{Name: "quit", Description: "leave the shell"},
}

func init() {
	lookupCommand("help").Run = (*shell).help
}

var errQuit = errors.New("quit")

type shell struct {
	src    content.Source
	out    io.Writer
	log    *slog.Logger
	opened bool
}

func lookupCommand(verb string) *shellCommand {
	for _, c := range shellCommands {
		if c.Name == verb {
			return c
		}
	}
	return nil
}

// exec runs one command line. It returns errQuit when the shell should end.
func (sh *shell) exec(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	verb, args := strings.ToLower(fields[0]), fields[1:]
	if verb == "exit" || verb == "q" {
		verb = "quit"
	}
	c := lookupCommand(verb)
	switch {
	case c == nil:
		return fmt.Errorf("unrecognized command: %s", verb)
	case verb == "quit":
		return errQuit
	case len(args) < c.MinArgs:
		return fmt.Errorf("%s expects at least %d argument(s)", verb, c.MinArgs)
	case len(args) > c.MaxArgs:
		return fmt.Errorf("%s expects at most %d argument(s)", verb, c.MaxArgs)
	case c.NeedsBook && !sh.opened:
		return fmt.Errorf("%s needs an open book", verb)
	}
	return c.Run(sh, args)
}

func (sh *shell) list(args []string) error {
	printCatalog(sh.out, sh.src.Catalog())
	return nil
}

func (sh *shell) open(args []string) error {
	index, err := parseIndex(args[0])
	if err != nil {
		return err
	}
	if err := sh.src.Select(index); err != nil {
		// A failed Select may have closed the previous book.
		sh.opened = sh.src.Position().Book >= 0
		return err
	}
	sh.opened = true
	sh.log.Debug("book selected", "index", index)
	entry, _ := sh.src.Catalog().Entry(index)
	fmt.Fprintf(sh.out, "opened %q, %d chapter(s)\n", entry.Title, len(sh.src.Chapters()))
	return nil
}

func (sh *shell) next(args []string) error {
	n := defaultPageWords
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			return fmt.Errorf("invalid word count %q", args[0])
		}
		n = v
	}
	count, err := printWords(sh.out, sh.src, n)
	if err != nil {
		return err
	}
	if count == 0 {
		fmt.Fprintln(sh.out, "end of book")
	}
	return nil
}

func (sh *shell) chapters(args []string) error {
	current := sh.src.Position().Chapter
	for i, label := range sh.src.Chapters() {
		mark := " "
		if i == current {
			mark = ">"
		}
		fmt.Fprintf(sh.out, "%s %3d %s\n", mark, i, label)
	}
	return nil
}

func (sh *shell) chapter(args []string) error {
	index, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid chapter %q", args[0])
	}
	return seekChapter(sh.src, index)
}

func (sh *shell) where(args []string) error {
	pos := sh.src.Position()
	fmt.Fprintf(sh.out, "book %d, chapter %d, paragraph %d, word %d/%d\n",
		pos.Book, pos.Chapter, pos.Paragraph, pos.Word, pos.WordTotal)
	return nil
}

func (sh *shell) cover(args []string) error {
	index, err := parseIndex(args[0])
	if err != nil {
		return err
	}
	output := fmt.Sprintf("cover-%d.pbm", index)
	if len(args) > 1 {
		output = args[1]
	}
	thumb, status, err := sh.src.Cover(index)
	if err != nil {
		return err
	}
	if err := os.WriteFile(output, thumb.PBM(), 0o644); err != nil {
		return fmt.Errorf("failed to write thumbnail: %w", err)
	}
	fmt.Fprintf(sh.out, "wrote %s (%s)\n", output, status)
	return nil
}

func (sh *shell) help(args []string) error {
	for _, c := range shellCommands {
		fmt.Fprintf(sh.out, "  %-9s %s\n", c.Name, c.Description)
	}
	return nil
}

func newCompleter() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(shellCommands))
	for _, c := range shellCommands {
		items = append(items, readline.PcItem(c.Name))
	}
	return readline.NewPrefixCompleter(items...)
}

func historyPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "epubstream_history")
}

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Browse and read books interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, opts, err := bootFromCmd(cmd)
			if err != nil {
				return err
			}
			defer src.Close()

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "epubstream> ",
				HistoryFile:     historyPath(),
				AutoComplete:    newCompleter(),
				InterruptPrompt: "^C",
				EOFPrompt:       "quit",
			})
			if err != nil {
				return fmt.Errorf("failed to start shell: %w", err)
			}
			defer rl.Close()

			sh := &shell{src: src, out: rl.Stdout(), log: opts.Logger}
			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					continue
				}
				if err != nil {
					return nil
				}
				err = sh.exec(line)
				if errors.Is(err, errQuit) {
					return nil
				}
				if err != nil {
					fmt.Fprintln(rl.Stderr(), "error:", err)
				}
			}
		},
	}
}
