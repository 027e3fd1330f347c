package adapter

import (
	"net/url"
	"testing"
	"time"
)

func TestIsoTimestampFormat(t *testing.T) {
	at := time.Date(2024, 1, 15, 10, 30, 45, 123_000_000, time.UTC)
	if got := isoTimestamp(at); got != "2024-01-15T10:30:45.123Z" {
		t.Fatalf("isoTimestamp = %q", got)
	}

	// Non-UTC inputs are normalized before formatting.
	loc := time.FixedZone("UTC+8", 8*3600)
	if got := isoTimestamp(at.In(loc)); got != "2024-01-15T10:30:45.123Z" {
		t.Fatalf("isoTimestamp in UTC+8 = %q", got)
	}
}

func TestCanonicalQueryDeterministic(t *testing.T) {
	params := url.Values{}
	params.Set("toTokenAddress", "USDC")
	params.Set("fromTokenAddress", "SOL")
	params.Set("amount", "1000000000")
	params.Set("slippageBps", "50")
	params.Set("feeAccount", "") // empty values are omitted

	want := "amount=1000000000&fromTokenAddress=SOL&slippageBps=50&toTokenAddress=USDC"
	for i := 0; i < 5; i++ {
		if got := canonicalQuery(params); got != want {
			t.Fatalf("canonicalQuery = %q, want %q", got, want)
		}
	}
}

func TestSignatureFixture(t *testing.T) {
	const (
		secret = "test-secret-key"
		ts     = "2024-01-15T10:30:45.123Z"
	)

	params := url.Values{}
	params.Set("fromTokenAddress", "So11111111111111111111111111111111111111112")
	params.Set("toTokenAddress", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	params.Set("amount", "1000000000")
	params.Set("slippageBps", "50")

	payload := preHash(ts, "get", "/api/v5/dex/aggregator/quote", canonicalQuery(params), nil)
	wantPayload := "2024-01-15T10:30:45.123ZGET/api/v5/dex/aggregator/quote?amount=1000000000&fromTokenAddress=So11111111111111111111111111111111111111112&slippageBps=50&toTokenAddress=EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	if payload != wantPayload {
		t.Fatalf("preHash = %q\nwant %q", payload, wantPayload)
	}

	if got := sign(secret, payload); got != "0EoCiv3hodzOkAnDwrd8KxcFEcgHSKzbENJXTUaqMIM=" {
		t.Fatalf("signature = %q", got)
	}
}

func TestSignatureFixtureWithBody(t *testing.T) {
	body := []byte(`{"fromTokenAddress":"SOL","amount":"1000000000"}`)
	payload := preHash("2024-01-15T10:30:45.123Z", "POST", "/api/v5/dex/aggregator/swap", "", body)

	if got := sign("test-secret-key", payload); got != "fJsO8tFX2cpdjmKVRwtSw07zWl0OEO2p1t/Y1dj8ACs=" {
		t.Fatalf("signature = %q", got)
	}
}
