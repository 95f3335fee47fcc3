// cmd/output.go
package cmd

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/tabquery/internal/traversal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// record is one JSON output line.
type record struct {
	Tab string `json:"tab,omitempty"`
	traversal.MatchResult
	Error string `json:"error,omitempty"`
}

// printer writes results as plain values or JSON lines.
type printer struct {
	w      io.Writer
	asJSON bool
}

func newPrinter(w io.Writer, format string) *printer {
	return &printer{w: w, asJSON: format == "json"}
}

func (p *printer) result(tab string, res traversal.MatchResult) error {
	if p.asJSON {
		return p.line(record{Tab: tab, MatchResult: res})
	}
	var err error
	switch {
	case tab != "":
		_, err = fmt.Fprintf(p.w, "%s\t%s\n", tab, res.Value)
	default:
		_, err = fmt.Fprintln(p.w, res.Value)
	}
	return err
}

// tabSummary reports how many elements a preset touched in one tab.
func (p *printer) tabSummary(tab string, n int, tabErr error) error {
	if p.asJSON {
		r := record{Tab: tab, MatchResult: traversal.MatchResult{Kind: traversal.KindValue, Value: fmt.Sprint(n)}}
		if tabErr != nil {
			r.Kind = traversal.KindError
			r.Value = ""
			r.Error = tabErr.Error()
		}
		return p.line(r)
	}
	var err error
	if tabErr != nil {
		_, err = fmt.Fprintf(p.w, "%s\tfailed: %v\n", tab, tabErr)
	} else {
		_, err = fmt.Fprintf(p.w, "%s\t%d element(s)\n", tab, n)
	}
	return err
}

func (p *printer) line(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	b = append(b, '\n')
	_, err = p.w.Write(b)
	return err
}
