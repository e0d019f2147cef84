package marketdata

import (
	"github.com/shopspring/decimal"
)

// ChartResponse is the envelope of the chart endpoint.
type ChartResponse struct {
	Chart struct {
		Result []ChartResult `json:"result"`
		Error  *ProviderError `json:"error"`
	} `json:"chart"`
}

// ChartResult holds one symbol's bars. Quote arrays are parallel to Timestamp
// and may contain nulls for bars with no trades.
type ChartResult struct {
	Meta struct {
		Symbol             string          `json:"symbol"`
		Currency           string          `json:"currency"`
		RegularMarketPrice decimal.Decimal `json:"regularMarketPrice"`
		ExchangeTimezone   string          `json:"exchangeTimezoneName"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []QuoteSeries `json:"quote"`
	} `json:"indicators"`
}

// QuoteSeries is the OHLCV column set of a chart result.
type QuoteSeries struct {
	Open   []decimal.NullDecimal `json:"open"`
	High   []decimal.NullDecimal `json:"high"`
	Low    []decimal.NullDecimal `json:"low"`
	Close  []decimal.NullDecimal `json:"close"`
	Volume []decimal.NullDecimal `json:"volume"`
}

// ProviderError is the error object the provider embeds in responses.
type ProviderError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// SearchResponse is the envelope of the search endpoint.
type SearchResponse struct {
	News []NewsItem `json:"news"`
}

// NewsItem is one headline from the search endpoint.
type NewsItem struct {
	Title               string `json:"title"`
	Summary             string `json:"summary"`
	Publisher           string `json:"publisher"`
	ProviderPublishTime int64  `json:"providerPublishTime"`
}
