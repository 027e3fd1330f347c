package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sawpanic/solroute/internal/errs"
	"github.com/sawpanic/solroute/internal/model"
)

const jupiterQuoteFixture = `{
	"inputMint": "So11111111111111111111111111111111111111112",
	"outputMint": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	"inAmount": "1000000000",
	"outAmount": "145670000",
	"otherAmountThreshold": "144941650",
	"swapMode": "ExactIn",
	"slippageBps": 50,
	"priceImpactPct": "0.0123",
	"routePlan": [{
		"swapInfo": {
			"ammKey": "orca-whirlpool-1",
			"label": "Orca",
			"inputMint": "So11111111111111111111111111111111111111112",
			"outputMint": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			"inAmount": "1000000000",
			"outAmount": "145670000",
			"feeAmount": "250000",
			"feeMint": "So11111111111111111111111111111111111111112"
		},
		"percent": 100
	}],
	"contextSlot": 250123456,
	"timeTaken": 0.182
}`

func solUSDCRequest() *model.QuoteRequest {
	return &model.QuoteRequest{
		InputMint:   "So11111111111111111111111111111111111111112",
		OutputMint:  "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		Amount:      "1000000000",
		SlippageBps: 50,
	}
}

func TestJupiterQuoteNormalization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quote" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("amount") != "1000000000" || q.Get("slippageBps") != "50" {
			t.Errorf("query = %v", q)
		}
		w.Write([]byte(jupiterQuoteFixture))
	}))
	defer srv.Close()

	a := NewJupiterAdapter(ClientConfig{BaseURL: srv.URL, RequestTimeout: time.Second}, nil)
	quote, err := a.Quote(context.Background(), solUSDCRequest())
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if quote.OutAmount != "145670000" || quote.OtherAmountThreshold != "144941650" {
		t.Fatalf("amounts = %s / %s", quote.OutAmount, quote.OtherAmountThreshold)
	}
	if len(quote.RoutePlan) != 1 || quote.RoutePlan[0].Label != "Orca" {
		t.Fatalf("route plan = %+v", quote.RoutePlan)
	}
	if !quote.Telescopes() {
		t.Fatal("normalized fixture does not telescope")
	}
	if quote.ContextSlot != 250123456 {
		t.Fatalf("contextSlot = %d", quote.ContextSlot)
	}
}

func TestJupiterQuoteErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		want   errs.Code
	}{
		{http.StatusTooManyRequests, errs.DexRateLimited},
		{http.StatusBadRequest, errs.DexInvalidResponse},
		{http.StatusInternalServerError, errs.DexUnavailable},
	}
	for _, c := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(c.status)
			w.Write([]byte(`{"error":"nope"}`))
		}))
		a := NewJupiterAdapter(ClientConfig{BaseURL: srv.URL, RequestTimeout: time.Second}, nil)
		_, err := a.Quote(context.Background(), solUSDCRequest())
		if errs.CodeOf(err) != c.want {
			t.Errorf("status %d mapped to %v, want %v", c.status, errs.CodeOf(err), c.want)
		}
		srv.Close()
	}
}

func TestJupiterQuoteTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	a := NewJupiterAdapter(ClientConfig{BaseURL: srv.URL, RequestTimeout: 30 * time.Millisecond}, nil)
	_, err := a.Quote(context.Background(), solUSDCRequest())
	if errs.CodeOf(err) != errs.TransactionTimeout {
		t.Fatalf("code = %v, want TRANSACTION_TIMEOUT", errs.CodeOf(err))
	}
}

func TestJupiterBuildTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/swap" || r.Method != http.MethodPost {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"swapTransaction":"AQIDBA==","lastValidBlockHeight":250000000,"prioritizationFeeLamports":5000}`))
	}))
	defer srv.Close()

	a := NewJupiterAdapter(ClientConfig{BaseURL: srv.URL, RequestTimeout: time.Second}, nil)
	built, err := a.BuildTransaction(context.Background(), &BuildRequest{
		Quote: &model.NormalizedQuote{
			InputMint:  "SOL",
			OutputMint: "USDC",
			InAmount:   "1000000000",
			OutAmount:  "145670000",
			SwapMode:   model.SwapModeExactIn,
		},
		UserPublicKey: "UserKey111",
	})
	if err != nil {
		t.Fatalf("BuildTransaction: %v", err)
	}
	if built.SwapTransaction != "AQIDBA==" || built.LastValidBlockHeight != 250000000 {
		t.Fatalf("built = %+v", built)
	}
}
