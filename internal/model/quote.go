package model

// SwapQuote is the result of a quote request. It is derived per request and
// never persisted. Amounts are human-unit decimal strings.
type SwapQuote struct {
	AmountOut       string  `json:"amount_out"`
	PriceImpact     float64 `json:"price_impact"`
	MinimumReceived string  `json:"minimum_received"`
	Source          string  `json:"source"`
}
