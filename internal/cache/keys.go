package cache

import (
	"fmt"
	"strings"
)

// Keys are stable flat strings prefixed by type; the prefix doubles as the
// cache-type label on metrics.

// QuoteKey fingerprints a full quote request.
func QuoteKey(inputMint, outputMint, amount string, slippageBps int) string {
	return fmt.Sprintf("quote:%s:%s:%s:%d", inputMint, outputMint, amount, slippageBps)
}

// RouteKey fingerprints a route calculation.
func RouteKey(inputMint, outputMint, amount string) string {
	return fmt.Sprintf("route:%s:%s:%s", inputMint, outputMint, amount)
}

// ProviderQuoteKey fingerprints one provider's quote for a request.
func ProviderQuoteKey(provider, inputMint, outputMint, amount string, slippageBps int) string {
	return fmt.Sprintf("provider_quote:%s:%s:%s:%s:%d", provider, inputMint, outputMint, amount, slippageBps)
}

// TokenKey fingerprints token metadata by address.
func TokenKey(address string) string {
	return fmt.Sprintf("token:%s", address)
}

// LockKey namespaces an advisory lock key.
func LockKey(key string) string {
	return fmt.Sprintf("lock:%s", key)
}

// TypeOf returns the cache-type label for a key: the segment before the
// first colon.
func TypeOf(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}
