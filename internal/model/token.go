package model

// Token is an entry in the static token list.
type Token struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals uint8  `json:"decimals"`
	LogoURI  string `json:"logo_uri,omitempty"`
}

// FeeTier describes one supported fee setting and its tick spacing.
// Fee is expressed in hundredths of a basis point (3000 = 0.30%).
type FeeTier struct {
	Fee         uint32 `json:"fee"`
	TickSpacing int32  `json:"tick_spacing"`
	Label       string `json:"label"`
	Description string `json:"description"`
}
