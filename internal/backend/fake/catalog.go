// Package fake provides an in-process backend with a static instrument catalog and injectable faults.
package fake

import (
	"strings"

	"github.com/coachpo/secsearch/internal/backend"
)

// Instrument is a searchable catalog entry.
type Instrument struct {
	Security    string
	Description string
	YellowKey   string
}

// Curve is a searchable yield curve entry.
type Curve struct {
	Curve       string
	Description string
	Country     string
	Currency    string
}

// Govt is a searchable government security ticker.
type Govt struct {
	Parseky string
	Name    string
	Ticker  string
}

// DefaultInstruments seeds the fake instrument search.
var DefaultInstruments = []Instrument{
	{Security: "IBM US Equity", Description: "INTL BUSINESS MACHINES CORP", YellowKey: "YK_FILTER_EQTY"},
	{Security: "IBM LN Equity", Description: "INTL BUSINESS MACHINES CORP", YellowKey: "YK_FILTER_EQTY"},
	{Security: "IBM GR Equity", Description: "INTL BUSINESS MACHINES CORP", YellowKey: "YK_FILTER_EQTY"},
	{Security: "IBM 3.45 02/19/26 Corp", Description: "INTL BUSINESS MACHINES CORP", YellowKey: "YK_FILTER_CORP"},
	{Security: "IBM US 01/17/25 C150 Equity", Description: "IBM US 01/17/25 C150", YellowKey: "YK_FILTER_EQTY"},
	{Security: "VOD LN Equity", Description: "VODAFONE GROUP PLC", YellowKey: "YK_FILTER_EQTY"},
	{Security: "AAPL US Equity", Description: "APPLE INC", YellowKey: "YK_FILTER_EQTY"},
	{Security: "SPX Index", Description: "S&P 500 INDEX", YellowKey: "YK_FILTER_INDX"},
	{Security: "EURUSD Curncy", Description: "EUR-USD X-RATE", YellowKey: "YK_FILTER_CURR"},
	{Security: "CL1 Comdty", Description: "GENERIC 1ST 'CL' FUTURE", YellowKey: "YK_FILTER_CMDT"},
}

// DefaultCurves seeds the fake curve search.
var DefaultCurves = []Curve{
	{Curve: "YCGT0025 Index", Description: "US Treasury Actives Curve", Country: "US", Currency: "USD"},
	{Curve: "YCSW0023 Index", Description: "USD SOFR Swap Curve", Country: "US", Currency: "USD"},
	{Curve: "YCGT0016 Index", Description: "Germany Sovereign Curve", Country: "DE", Currency: "EUR"},
}

// DefaultGovts seeds the fake government ticker search.
var DefaultGovts = []Govt{
	{Parseky: "T 4 1/4 05/15/34 Govt", Name: "US TREASURY N/B", Ticker: "T"},
	{Parseky: "T 4 1/2 11/15/33 Govt", Name: "US TREASURY N/B", Ticker: "T"},
	{Parseky: "UKT 4 1/4 12/07/27 Govt", Name: "UNITED KINGDOM GILT", Ticker: "UKT"},
}

type catalog struct {
	instruments []Instrument
	curves      []Curve
	govts       []Govt
}

func contains(haystack, needle string) bool {
	return strings.Contains(strings.ToUpper(haystack), strings.ToUpper(needle))
}

// search returns result elements for req in catalog order, capped at maxResults.
func (c catalog) search(req *backend.Request) []any {
	query, _ := req.Get(backend.FieldQuery)
	text, _ := query.(string)
	limit := 0
	if v, ok := req.Get(backend.FieldMaxResults); ok {
		if n, ok := v.(int64); ok {
			limit = int(n)
		}
	}

	var out []any
	add := func(result map[string]any) bool {
		out = append(out, result)
		return limit <= 0 || len(out) < limit
	}

	switch req.Operation() {
	case backend.OpInstrumentList:
		yk, _ := req.Get(backend.FieldYKFilter)
		ykFilter, _ := yk.(string)
		for _, inst := range c.instruments {
			if ykFilter != "" && ykFilter != "YK_FILTER_NONE" && inst.YellowKey != ykFilter {
				continue
			}
			if !contains(inst.Security, text) && !contains(inst.Description, text) {
				continue
			}
			if !add(map[string]any{"security": inst.Security, "description": inst.Description}) {
				break
			}
		}
	case backend.OpCurveList:
		country, _ := req.Get("countryCode")
		currency, _ := req.Get("currencyCode")
		for _, curve := range c.curves {
			if s, ok := country.(string); ok && s != "" && !strings.EqualFold(s, curve.Country) {
				continue
			}
			if s, ok := currency.(string); ok && s != "" && !strings.EqualFold(s, curve.Currency) {
				continue
			}
			if !contains(curve.Curve, text) && !contains(curve.Description, text) {
				continue
			}
			if !add(map[string]any{
				"curve": curve.Curve, "description": curve.Description,
				"country": curve.Country, "currency": curve.Currency,
			}) {
				break
			}
		}
	case backend.OpGovtList:
		ticker, _ := req.Get("ticker")
		for _, govt := range c.govts {
			if s, ok := ticker.(string); ok && s != "" && !strings.EqualFold(s, govt.Ticker) {
				continue
			}
			if !contains(govt.Parseky, text) && !contains(govt.Name, text) {
				continue
			}
			if !add(map[string]any{"parseky": govt.Parseky, "name": govt.Name, "ticker": govt.Ticker}) {
				break
			}
		}
	}
	return out
}
