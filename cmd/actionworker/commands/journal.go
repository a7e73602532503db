package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	ferrors "git.home.luguber.info/inful/actionworker/internal/foundation/errors"
	"git.home.luguber.info/inful/actionworker/internal/journal"
)

// JournalCmd implements the 'journal' command.
type JournalCmd struct {
	Limit int `short:"n" help:"Number of entries to show" default:"20"`
}

func (j *JournalCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(g, root)
	if err != nil {
		return err
	}
	store, err := journal.NewSQLiteStore(cfg.Journal.Path)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryJournal, "cannot open journal").
			WithContext("path", cfg.Journal.Path).
			Build()
	}
	defer func() { _ = store.Close() }()
	return printJournal(context.Background(), os.Stdout, store, j.Limit)
}

func printJournal(ctx context.Context, w io.Writer, store journal.Store, limit int) error {
	entries, err := store.Recent(ctx, limit)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryJournal, "cannot read journal").Build()
	}
	counts, err := store.CountByKind(ctx)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryJournal, "cannot read journal").Build()
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tWORKER\tACTION\tOUTCOME\tDURATION\tLOGS\tMESSAGE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%dms\t%d\t%s\n",
			e.RecordedAt.Format(time.RFC3339), e.WorkerID, e.Action, e.Kind, e.DurationMS, e.LogCount, e.Message)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "%s: %d\n", k, counts[k])
	}
	return nil
}
