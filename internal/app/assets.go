package app

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"

	"okxwatch/internal/fetcher"
	"okxwatch/internal/window"
)

// Assets prints account equity, per-currency balances and realised spot PnL.
// Any account API failure degrades to "N/A" rather than failing the command.
func (a *App) Assets(ctx context.Context) error {
	if !a.Config.OKX.HasCredentials() {
		a.Logger.Warn().Msg("okx credentials not configured; account data unavailable")
		fmt.Fprintf(a.Out, "Total equity (USD): %s\n", window.NotAvailable)
		return nil
	}

	client := a.newClient()

	balance, err := client.FetchBalance(ctx, "")
	if err != nil {
		a.warnUnavailable(err, "balance unavailable")
		fmt.Fprintf(a.Out, "Total equity (USD): %s\n", window.NotAvailable)
		return nil
	}

	fmt.Fprintf(a.Out, "Total equity (USD): %s\n\n", FormatNumber(balance.TotalEq))

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Currency\tEquity\tAvailable\tUnrealised PnL")
	for _, d := range balance.Details {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", d.Ccy, FormatNumber(d.Eq), FormatNumber(d.AvailEq), FormatNumber(d.Upl))
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	bills, err := client.FetchBills(ctx, fetcher.BillsQuery{Type: "1", Limit: 100})
	if err != nil {
		a.warnUnavailable(err, "bills unavailable")
		fmt.Fprintf(a.Out, "\nRealised spot PnL: %s\n", window.NotAvailable)
		return nil
	}

	pnl := fetcher.SpotRealizedPnL(bills)
	fmt.Fprintf(a.Out, "\nRealised spot PnL: %s\n", FormatNumber(pnl.Total))

	ccys := make([]string, 0, len(pnl.ByCcy))
	for ccy := range pnl.ByCcy {
		ccys = append(ccys, ccy)
	}
	sort.Strings(ccys)
	for _, ccy := range ccys {
		fmt.Fprintf(a.Out, "  %s: %s\n", ccy, FormatNumber(pnl.ByCcy[ccy]))
	}
	return nil
}

func (a *App) warnUnavailable(err error, msg string) {
	a.Logger.Warn().Err(err).Bool("auth", fetcher.IsAuthError(err)).Msg(msg)
}
