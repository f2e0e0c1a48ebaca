package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"cr-go/internal/app"
	"cr-go/internal/cr"

	"golang.org/x/term"
)

// table writes aligned columns on a terminal and plain tab-separated rows
// otherwise, so output stays easy to pipe into cut or awk.
type table struct {
	tw *tabwriter.Writer
	w  io.Writer
}

func newTable(header ...string) *table {
	t := &table{w: os.Stdout}
	if term.IsTerminal(int(os.Stdout.Fd())) {
		t.tw = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		t.w = t.tw
		t.row(anySlice(header)...)
	}
	return t
}

func (t *table) row(cols ...any) {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprint(c)
	}
	fmt.Fprintln(t.w, strings.Join(parts, "\t"))
}

func (t *table) flush() {
	if t.tw != nil {
		t.tw.Flush()
	}
}

func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func printNodes(nodes []*cr.Node) {
	t := newTable("ID", "NAME", "MASTER", "ROOT", "ROOT FOLDER")
	for _, n := range nodes {
		master := "-"
		if n.IsChannel() {
			master = fmt.Sprint(n.MasterID)
		}
		t.row(n.ID, n.Name, master, n.RootID, n.RootFolderID)
	}
	t.flush()
}

func printResolved(items []*cr.Resolved) {
	t := newTable("ID", "TYPE", "NAME", "OWNER", "DEPTH", "STATE")
	for _, r := range items {
		o := r.Variant
		state := "live"
		if r.InWastebin {
			state = "deleted"
		}
		t.row(o.ChannelSetID, o.Type, o.Name, owner(o), r.Depth, state)
	}
	t.flush()
}

func printObjects(objs []*cr.Object) {
	t := newTable("ROW", "ID", "TYPE", "NAME", "OWNER", "LANG", "DELETED")
	for _, o := range objs {
		lang := o.Language
		if lang == "" {
			lang = "-"
		}
		t.row(o.ID, o.ChannelSetID, o.Type, o.Name, owner(o), lang, o.Deleted)
	}
	t.flush()
}

func owner(o *cr.Object) string {
	if o.IsMaster() {
		return "master"
	}
	return fmt.Sprintf("channel %d", o.ChannelID)
}

func printOperations(ops []*cr.Operation) {
	t := newTable("ID", "OPERATION", "STARTED", "STATUS", "DURATION", "PARAMETERS")
	for _, op := range ops {
		duration := ""
		if !op.FinishedAt.IsZero() {
			duration = op.FinishedAt.Sub(op.StartedAt).Truncate(time.Millisecond).String()
		}
		t.row(fmt.Sprintf("#%d", op.ID), op.Operation, op.StartedAt.Format("2006-01-02 15:04:05"), op.Status, duration, op.Parameters)
	}
	t.flush()
}

func printSnapshots(infos []cr.SnapshotInfo) {
	t := newTable("NAME", "SIZE", "MODIFIED")
	for _, s := range infos {
		t.row(s.Name, s.Size, s.ModifiedAt.Format("2006-01-02 15:04:05"))
	}
	t.flush()
}

func printLockStats(stats []app.LockStat) {
	t := newTable("BACKEND", "OUTCOME", "COUNT")
	for _, s := range stats {
		t.row(s.Backend, s.Outcome, s.Count)
	}
	t.flush()
}
