package fetcher

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

const (
	balancePath = "/api/v5/account/balance"
	billsPath   = "/api/v5/account/bills"

	// TimestampLayout is the OK-ACCESS-TIMESTAMP format.
	TimestampLayout = "2006-01-02T15:04:05.000Z"
)

// ErrNoCredentials is returned by private endpoints when keys are absent.
var ErrNoCredentials = errors.New("okx api credentials not configured")

// Sign computes base64(HMAC-SHA256(secret, timestamp+METHOD+requestPath+body)).
func Sign(timestamp, method, requestPath, body, secretKey string) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(timestamp + method + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Timestamp formats t as the exchange expects: UTC, millisecond precision.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func (c *Client) signRequest(req *http.Request, method, requestPath, body string) error {
	if c.opts.APIKey == "" || c.opts.SecretKey == "" || c.opts.Passphrase == "" {
		return ErrNoCredentials
	}

	ts := Timestamp(c.now())
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OK-ACCESS-KEY", c.opts.APIKey)
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.opts.Passphrase)
	req.Header.Set("OK-ACCESS-SIGN", Sign(ts, method, requestPath, body, c.opts.SecretKey))
	if c.opts.Simulated {
		req.Header.Set("x-simulated-trading", "1")
	}
	return nil
}

// Balance is the trading account summary.
type Balance struct {
	TotalEq decimal.Decimal
	Details []BalanceDetail
}

// BalanceDetail is one currency line of the trading account.
type BalanceDetail struct {
	Ccy     string
	Eq      decimal.Decimal
	CashBal decimal.Decimal
	AvailEq decimal.Decimal
	Upl     decimal.Decimal
}

type balanceData struct {
	TotalEq string `json:"totalEq"`
	Details []struct {
		Ccy     string `json:"ccy"`
		Eq      string `json:"eq"`
		CashBal string `json:"cashBal"`
		AvailEq string `json:"availEq"`
		Upl     string `json:"upl"`
	} `json:"details"`
}

// FetchBalance queries the trading account balance, optionally for one currency.
func (c *Client) FetchBalance(ctx context.Context, ccy string) (Balance, error) {
	params := url.Values{}
	if ccy != "" {
		params.Set("ccy", ccy)
	}

	var data []balanceData
	if err := c.get(ctx, balancePath, params, true, &data); err != nil {
		return Balance{}, err
	}
	if len(data) == 0 {
		return Balance{}, ErrNoData
	}

	bal := Balance{TotalEq: lenientDecimal(data[0].TotalEq)}
	for _, d := range data[0].Details {
		bal.Details = append(bal.Details, BalanceDetail{
			Ccy:     d.Ccy,
			Eq:      lenientDecimal(d.Eq),
			CashBal: lenientDecimal(d.CashBal),
			AvailEq: lenientDecimal(d.AvailEq),
			Upl:     lenientDecimal(d.Upl),
		})
	}
	return bal, nil
}

// BillsQuery filters the account bills endpoint.
type BillsQuery struct {
	Ccy     string
	Type    string
	SubType string
	After   string
	Before  string
	Limit   int
}

// Bill is one balance change entry.
type Bill struct {
	BillID string
	Ccy    string
	Type   string
	BalChg decimal.Decimal
	Time   time.Time
}

type billData struct {
	BillID string `json:"billId"`
	Ccy    string `json:"ccy"`
	Type   string `json:"type"`
	BalChg string `json:"balChg"`
	Ts     string `json:"ts"`
}

// FetchBills queries recent account bills.
func (c *Client) FetchBills(ctx context.Context, query BillsQuery) ([]Bill, error) {
	limit := query.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	if query.Ccy != "" {
		params.Set("ccy", query.Ccy)
	}
	if query.Type != "" {
		params.Set("type", query.Type)
	}
	if query.SubType != "" {
		params.Set("subType", query.SubType)
	}
	if query.After != "" {
		params.Set("after", query.After)
	}
	if query.Before != "" {
		params.Set("before", query.Before)
	}

	var data []billData
	if err := c.get(ctx, billsPath, params, true, &data); err != nil {
		return nil, err
	}

	bills := make([]Bill, 0, len(data))
	for _, d := range data {
		bill := Bill{BillID: d.BillID, Ccy: d.Ccy, Type: d.Type, BalChg: lenientDecimal(d.BalChg)}
		if ms, err := strconv.ParseInt(d.Ts, 10, 64); err == nil {
			bill.Time = time.UnixMilli(ms).UTC()
		}
		bills = append(bills, bill)
	}
	return bills, nil
}

// RealizedPnL sums trade balance changes per currency.
type RealizedPnL struct {
	Total decimal.Decimal
	ByCcy map[string]decimal.Decimal
}

// SpotRealizedPnL aggregates balChg of trade bills (type "1").
func SpotRealizedPnL(bills []Bill) RealizedPnL {
	pnl := RealizedPnL{Total: decimal.Zero, ByCcy: make(map[string]decimal.Decimal)}
	for _, b := range bills {
		if b.Type != "1" {
			continue
		}
		ccy := b.Ccy
		if ccy == "" {
			ccy = "UNKNOWN"
		}
		pnl.Total = pnl.Total.Add(b.BalChg)
		pnl.ByCcy[ccy] = pnl.ByCcy[ccy].Add(b.BalChg)
	}
	return pnl
}

func lenientDecimal(v string) decimal.Decimal {
	if v == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero
	}
	return d
}

var _ AccountFetcher = (*Client)(nil)
