package registry

import (
	"fmt"
	"regexp"
	"strings"

	"dexcore/internal/model"
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidAddress reports whether s is a canonical 20-byte hex address.
func ValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// Canonical lowercases an address for map keys and comparisons.
func Canonical(addr string) string {
	return strings.ToLower(addr)
}

// Registry holds the process-wide static token list and fee tier set. Loaded
// once; lookups only after that.
type Registry struct {
	tokens        []model.Token
	byAddress     map[string]model.Token
	bySymbol      map[string]model.Token
	tiers         []model.FeeTier
	nativeSymbol  string
	wrappedNative string
}

// New builds a registry from static configuration. nativeSymbol resolves to
// the wrapped-native token address.
func New(tokens []model.Token, tiers []model.FeeTier, nativeSymbol, wrappedNative string) (*Registry, error) {
	if !ValidAddress(wrappedNative) {
		return nil, fmt.Errorf("wrapped native address %q is not a valid address", wrappedNative)
	}

	r := &Registry{
		tokens:        tokens,
		byAddress:     make(map[string]model.Token, len(tokens)),
		bySymbol:      make(map[string]model.Token, len(tokens)),
		tiers:         tiers,
		nativeSymbol:  strings.ToUpper(nativeSymbol),
		wrappedNative: Canonical(wrappedNative),
	}
	for _, token := range tokens {
		if !ValidAddress(token.Address) {
			return nil, fmt.Errorf("token %s: address %q is not a valid address", token.Symbol, token.Address)
		}
		r.byAddress[Canonical(token.Address)] = token
		r.bySymbol[strings.ToUpper(token.Symbol)] = token
	}
	return r, nil
}

// Tokens returns the static token list.
func (r *Registry) Tokens() []model.Token {
	return r.tokens
}

// FeeTiers returns the supported fee tiers.
func (r *Registry) FeeTiers() []model.FeeTier {
	return r.tiers
}

// TierForFee returns the tier matching a fee value.
func (r *Registry) TierForFee(fee uint32) (model.FeeTier, bool) {
	for _, tier := range r.tiers {
		if tier.Fee == fee {
			return tier, true
		}
	}
	return model.FeeTier{}, false
}

// ByAddress looks a token up by address.
func (r *Registry) ByAddress(addr string) (model.Token, bool) {
	token, ok := r.byAddress[Canonical(addr)]
	return token, ok
}

// Extend returns a new registry with extra tokens appended. Tokens already
// present keep their static entries.
func (r *Registry) Extend(extra []model.Token) (*Registry, error) {
	combined := make([]model.Token, 0, len(r.tokens)+len(extra))
	combined = append(combined, r.tokens...)
	for _, token := range extra {
		if _, ok := r.byAddress[Canonical(token.Address)]; ok {
			continue
		}
		combined = append(combined, token)
	}
	return New(combined, r.tiers, r.nativeSymbol, r.wrappedNative)
}

// IsNative reports whether the input names the chain's native asset.
func (r *Registry) IsNative(symbolOrAddress string) bool {
	return strings.ToUpper(symbolOrAddress) == r.nativeSymbol
}

// WrappedNative returns the canonical wrapped-native token address.
func (r *Registry) WrappedNative() string {
	return r.wrappedNative
}

// Resolve maps a symbol or address to a token record. The native asset
// symbol resolves to its wrapped representation. Unknown but well-formed
// addresses resolve to a bare token with default decimals.
func (r *Registry) Resolve(symbolOrAddress string) (model.Token, error) {
	if r.IsNative(symbolOrAddress) {
		if token, ok := r.byAddress[r.wrappedNative]; ok {
			return token, nil
		}
		return model.Token{Address: r.wrappedNative, Symbol: r.nativeSymbol, Decimals: 18}, nil
	}
	if token, ok := r.bySymbol[strings.ToUpper(symbolOrAddress)]; ok {
		return token, nil
	}
	if ValidAddress(symbolOrAddress) {
		if token, ok := r.byAddress[Canonical(symbolOrAddress)]; ok {
			return token, nil
		}
		return model.Token{Address: Canonical(symbolOrAddress), Decimals: 18}, nil
	}
	return model.Token{}, fmt.Errorf("unknown token %q", symbolOrAddress)
}

// DefaultFeeTiers is the fixed fee tier set with on-chain tick spacings.
func DefaultFeeTiers() []model.FeeTier {
	return []model.FeeTier{
		{Fee: 100, TickSpacing: 1, Label: "0.01%", Description: "Best for very stable pairs"},
		{Fee: 500, TickSpacing: 10, Label: "0.05%", Description: "Best for stable pairs"},
		{Fee: 3000, TickSpacing: 60, Label: "0.3%", Description: "Best for most pairs"},
		{Fee: 10000, TickSpacing: 200, Label: "1%", Description: "Best for exotic pairs"},
	}
}
