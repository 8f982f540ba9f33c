package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/srg/blemesh/pkg/config"
	"github.com/srg/blemesh/scanner"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Peer states shown in the report
const (
	peerRunning  = "running"
	peerFinished = "finished"
	peerDropped  = "dropped"
)

type resultRecord struct {
	Index   int    `json:"index"`
	Request string `json:"request"`
	Hex     string `json:"hex"`
	Text    string `json:"text,omitempty"`
}

type skipRecord struct {
	Index   int    `json:"index"`
	Request string `json:"request"`
	Reason  string `json:"reason"`
}

type peerReport struct {
	Peer       string         `json:"peer"`
	State      string         `json:"state"`
	Completed  int            `json:"completed"`
	Reconnects int            `json:"reconnects,omitempty"`
	Skipped    []skipRecord   `json:"skipped,omitempty"`
	Error      string         `json:"error,omitempty"`
	Results    []resultRecord `json:"results,omitempty"`

	session string
}

// report collects per-peer results and outcomes. Peers are kept in the order
// they were first heard from.
type report struct {
	mu    sync.Mutex
	out   io.Writer
	specs []config.RequestSpec
	peers *orderedmap.OrderedMap[string, *peerReport]

	peerColor *color.Color
	okColor   *color.Color
	warnColor *color.Color
	errColor  *color.Color
}

// newReport creates a report for plan. Results are echoed to live as they
// arrive; a nil live disables the echo.
func newReport(live io.Writer, plan *config.Plan, colors bool) *report {
	r := &report{
		out:       live,
		specs:     plan.Requests,
		peers:     orderedmap.New[string, *peerReport](),
		peerColor: color.New(color.FgCyan, color.Bold),
		okColor:   color.New(color.FgGreen),
		warnColor: color.New(color.FgYellow),
		errColor:  color.New(color.FgRed),
	}
	for _, c := range []*color.Color{r.peerColor, r.okColor, r.warnColor, r.errColor} {
		if colors {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return r
}

// peer returns the entry for id, creating it. Callers hold r.mu.
func (r *report) peer(id string) *peerReport {
	if p, ok := r.peers.Get(id); ok {
		return p
	}
	p := &peerReport{Peer: id, State: peerRunning}
	r.peers.Set(id, p)
	return p
}

func (r *report) label(index int) string {
	if index >= 0 && index < len(r.specs) {
		return r.specs[index].Label()
	}
	return fmt.Sprintf("#%d", index)
}

// result is the config.ResultFunc the plan's requests report to.
func (r *report) result(peerID string, index int, spec config.RequestSpec, value []byte) {
	rec := resultRecord{
		Index:   index,
		Request: spec.Label(),
		Hex:     hex.EncodeToString(value),
		Text:    printable(value),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.peer(peerID)
	p.Results = append(p.Results, rec)

	if r.out != nil {
		fmt.Fprintf(r.out, "%s  %s  %s\n", r.peerColor.Sprint(peerID), rec.Request, formatValue(rec))
	}
}

func (r *report) outcome(o scanner.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.peer(o.Peer)

	// a reconnected peer runs the plan again in a new session
	if o.SessionID != "" && o.SessionID != p.session {
		if p.session != "" {
			p.Reconnects++
			p.State = peerRunning
			p.Completed = 0
			p.Skipped = nil
			p.Error = ""
		}
		p.session = o.SessionID
	}

	switch o.Kind {
	case scanner.OutcomeCompleted:
		p.Completed++
	case scanner.OutcomeSkipped:
		p.Skipped = append(p.Skipped, skipRecord{Index: o.Cursor, Request: r.label(o.Cursor), Reason: errString(o.Err)})
	case scanner.OutcomeFinished:
		p.State = peerFinished
	case scanner.OutcomeDropped:
		p.State = peerDropped
		p.Error = errString(o.Err)
	}
}

// incomplete reports whether any peer did not finish the plan.
func (r *report) incomplete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for pair := r.peers.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.State != peerFinished {
			return true
		}
	}
	return false
}

func (r *report) snapshot() []peerReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]peerReport, 0, r.peers.Len())
	for pair := r.peers.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, *pair.Value)
	}
	return out
}

func (r *report) printText(w io.Writer) {
	peers := r.snapshot()
	if len(peers) == 0 {
		fmt.Fprintln(w, "No peers connected")
		return
	}

	total := len(r.specs)
	for _, p := range peers {
		state := r.warnColor.Sprint(p.State)
		switch p.State {
		case peerFinished:
			state = r.okColor.Sprint(p.State)
		case peerDropped:
			state = r.errColor.Sprint(p.State)
		}
		fmt.Fprintf(w, "%s  %s  %d/%d completed\n", r.peerColor.Sprint(p.Peer), state, p.Completed, total)

		for _, s := range p.Skipped {
			fmt.Fprintf(w, "  %s #%d %s: %s\n", r.warnColor.Sprint("skipped"), s.Index, s.Request, s.Reason)
		}
		if p.Error != "" {
			fmt.Fprintf(w, "  %s %s\n", r.errColor.Sprint("error"), p.Error)
		}
		if p.Reconnects > 0 {
			fmt.Fprintf(w, "  reconnected %d time(s)\n", p.Reconnects)
		}
	}
}

func (r *report) printJSON(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r.snapshot())
}

func formatValue(rec resultRecord) string {
	if rec.Hex == "" {
		return "(empty)"
	}
	if rec.Text != "" {
		return rec.Hex + "  " + strconv.Quote(rec.Text)
	}
	return rec.Hex
}

// printable returns value as text when it is valid UTF-8 made of printable runes.
func printable(value []byte) string {
	if len(value) == 0 || !utf8.Valid(value) {
		return ""
	}
	s := string(value)
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return ""
		}
	}
	return s
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
