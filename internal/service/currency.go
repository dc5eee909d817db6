package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency 展示币种
type Currency struct {
	Code   string          `json:"code"`
	Symbol string          `json:"symbol"`
	Rate   decimal.Decimal `json:"rate"`
}

// CurrencyTable 固定汇率表，以基准币种为 1
// 汇率为静态占位值，不是实时汇率
type CurrencyTable struct {
	Canonical  string     `json:"canonical"`
	Currencies []Currency `json:"currencies"`
	Note       string     `json:"note"`
	byCode     map[string]Currency
}

// usdRates 相对美元的静态汇率
var usdRates = []Currency{
	{Code: "USD", Symbol: "$", Rate: decimal.NewFromInt(1)},
	{Code: "EUR", Symbol: "€", Rate: decimal.RequireFromString("0.92")},
	{Code: "GBP", Symbol: "£", Rate: decimal.RequireFromString("0.79")},
	{Code: "INR", Symbol: "₹", Rate: decimal.RequireFromString("83.0")},
	{Code: "JPY", Symbol: "¥", Rate: decimal.RequireFromString("150.0")},
}

// NewCurrencyTable 以 canonical 为基准重算汇率表
func NewCurrencyTable(canonical string) (*CurrencyTable, error) {
	canonical = strings.ToUpper(strings.TrimSpace(canonical))
	if canonical == "" {
		canonical = "USD"
	}

	var base *Currency
	for i := range usdRates {
		if usdRates[i].Code == canonical {
			base = &usdRates[i]
		}
	}
	if base == nil {
		return nil, fmt.Errorf("unsupported canonical currency %q", canonical)
	}

	table := &CurrencyTable{
		Canonical: canonical,
		Note:      "static placeholder rates, not a live exchange feed",
		byCode:    make(map[string]Currency, len(usdRates)),
	}
	for _, c := range usdRates {
		rebased := Currency{Code: c.Code, Symbol: c.Symbol, Rate: c.Rate.DivRound(base.Rate, 8)}
		table.Currencies = append(table.Currencies, rebased)
		table.byCode[c.Code] = rebased
	}
	sort.SliceStable(table.Currencies, func(i, j int) bool {
		return table.Currencies[i].Code == canonical && table.Currencies[j].Code != canonical
	})
	return table, nil
}

// Lookup 查找币种，code 为空时返回基准币种
func (t *CurrencyTable) Lookup(code string) (Currency, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		code = t.Canonical
	}
	c, ok := t.byCode[code]
	if !ok {
		return Currency{}, invalid("unsupported currency: %s", code)
	}
	return c, nil
}

// ToDisplay 基准金额换算为展示币种
func (c Currency) ToDisplay(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(c.Rate)
}

// ToCanonical 展示币种金额换算为基准币种
func (c Currency) ToCanonical(amount decimal.Decimal) decimal.Decimal {
	return amount.DivRound(c.Rate, 8)
}
