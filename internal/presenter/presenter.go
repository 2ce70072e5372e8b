package presenter

import (
	"context"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	"okxwatch/internal/alerting"
)

// Status texts shown alongside a snapshot.
const (
	StatusQuerying      = "Querying..."
	StatusComplete      = "Complete"
	StatusNoInstruments = "No trading pairs configured"
)

// Row is the presentation state of one instrument.
type Row struct {
	Instrument string         `json:"instId"`
	Price      string         `json:"price"`
	Change     string         `json:"change"`
	Class      alerting.Class `json:"class"`
	Samples    int            `json:"samples"`
}

// Snapshot is the full table at one point in time.
type Snapshot struct {
	At     time.Time `json:"at"`
	Status string    `json:"status"`
	Rows   []Row     `json:"rows"`
}

// Presenter receives table snapshots.
type Presenter interface {
	Present(ctx context.Context, snap Snapshot) error
}

// TablePresenter renders snapshots as an aligned text table.
type TablePresenter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewTablePresenter writes tables to out.
func NewTablePresenter(out io.Writer) *TablePresenter {
	return &TablePresenter{out: out}
}

// Present implements Presenter.
func (p *TablePresenter) Present(_ context.Context, snap Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	writer := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "%s\t%s\n", snap.At.Format("2006-01-02 15:04:05"), snap.Status)
	fmt.Fprintln(writer, "Symbol\tPrice\t30m Change\t")
	for _, row := range snap.Rows {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", row.Instrument, row.Price, row.Change, marker(row.Class))
	}
	return writer.Flush()
}

func marker(c alerting.Class) string {
	switch c {
	case alerting.ClassPositive:
		return "▲"
	case alerting.ClassNegative:
		return "▼"
	default:
		return ""
	}
}

// Multi fans a snapshot out to several presenters, stopping at the first error.
type Multi []Presenter

// Present implements Presenter.
func (m Multi) Present(ctx context.Context, snap Snapshot) error {
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Present(ctx, snap); err != nil {
			return err
		}
	}
	return nil
}

var (
	_ Presenter = (*TablePresenter)(nil)
	_ Presenter = Multi(nil)
)
