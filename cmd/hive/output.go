package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/Strob0t/CodeHive/internal/domain/event"
	"github.com/Strob0t/CodeHive/internal/domain/task"
	"github.com/Strob0t/CodeHive/internal/domain/worker"
)

const (
	ansiReset = "\033[0m"
	ansiRed   = "\033[31m"
	ansiGreen = "\033[32m"
	ansiDim   = "\033[2m"
)

// printer writes human-readable output, colored only on a terminal.
type printer struct {
	w     io.Writer
	color bool
}

func newPrinter(f *os.File) *printer {
	return &printer{w: f, color: term.IsTerminal(int(f.Fd()))} //nolint:gosec // fd fits in int
}

func (p *printer) paint(code, s string) string {
	if !p.color {
		return s
	}
	return code + s + ansiReset
}

func (p *printer) ok(success bool) string {
	if success {
		return p.paint(ansiGreen, "ok")
	}
	return p.paint(ansiRed, "failed")
}

func (p *printer) json(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) health(hs []worker.Health) {
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKER\tURL\tSTATE\tSESSION\tENGINE\tUPTIME")
	for i := range hs {
		h := &hs[i]
		state := p.paint(ansiGreen, "online")
		if !h.Online {
			state = p.paint(ansiRed, "offline")
		}
		uptime := "-"
		if h.Uptime != nil {
			uptime = formatSeconds(*h.Uptime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			h.Name, h.URL, state, orDash(h.SessionID), orDash(h.ClaudeVersion), uptime)
		if h.Error != "" {
			fmt.Fprintf(tw, "\t%s\t\t\t\t\n", p.paint(ansiDim, h.Error))
		}
	}
	_ = tw.Flush()
}

func (p *printer) results(rs []task.Result) {
	for i := range rs {
		r := &rs[i]
		if len(rs) > 1 || r.WorkerName != "" {
			fmt.Fprintf(p.w, "== %s [%s, %s]\n", r.WorkerName, p.ok(r.Success), formatSeconds(r.ExecutionTime))
		}
		fmt.Fprintln(p.w, strings.TrimRight(r.Result, "\n"))
		if i < len(rs)-1 {
			fmt.Fprintln(p.w)
		}
	}
}

func (p *printer) journal(es []task.JournalEntry) {
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRECORDED\tWORKER\tRESULT\tTIME\tTASK")
	for i := range es {
		e := &es[i]
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, task.Timestamp(e.RecordedAt), e.Worker, p.ok(e.Success),
			formatSeconds(e.ExecutionTime), oneLine(e.Task, 60))
	}
	_ = tw.Flush()
}

func (p *printer) history(es []task.HistoryEntry) {
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIMESTAMP\tTIME\tTASK\tRESULT")
	for i := range es {
		e := &es[i]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			e.Timestamp, formatSeconds(e.ExecutionTime), oneLine(e.Task, 50), oneLine(e.ResultPreview, 50))
	}
	_ = tw.Flush()
}

func (p *printer) event(workerName string, ev event.Event) {
	prefix := p.paint(ansiDim, ev.Timestamp.Format("15:04:05")) + " " + workerName
	switch ev.Type {
	case event.TypeStatus:
		fmt.Fprintf(p.w, "%s status %s\n", prefix, ev.Status)
	case event.TypeTaskStart:
		fmt.Fprintf(p.w, "%s start  %s\n", prefix, ev.Task)
	case event.TypeOutput:
		fmt.Fprintf(p.w, "%s | %s\n", prefix, ev.Line)
	case event.TypeTaskComplete:
		success := ev.Success != nil && *ev.Success
		fmt.Fprintf(p.w, "%s done   %s %s\n", prefix, p.ok(success), ev.ResultPreview)
	case event.TypeTaskError:
		fmt.Fprintf(p.w, "%s error  %s\n", prefix, p.paint(ansiRed, ev.Error))
	}
}

func formatSeconds(s float64) string {
	return fmt.Sprintf("%.1fs", s)
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

// oneLine flattens s and truncates it to n runes.
func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
