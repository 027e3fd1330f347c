package adapter

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Request signing for authenticated providers. The signature is
// content-addressed: a client that assembles the canonical string
// differently from the server cannot authenticate.

// isoTimestamp renders a signing timestamp as ISO-8601 UTC with
// millisecond precision and a trailing Z.
func isoTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// canonicalQuery serializes parameters deterministically: keys sorted,
// empty values omitted, standard URL encoding.
func canonicalQuery(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if params.Get(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params.Get(k)))
	}
	return b.String()
}

// preHash assembles the canonical string to sign:
// timestamp + METHOD + pathWithPrefix + (queryString | jsonBody).
// For GET requests the query is appended to the path after '?'; for
// requests with a body the raw JSON is appended as-is.
func preHash(timestamp, method, requestPath, query string, body []byte) string {
	var b strings.Builder
	b.WriteString(timestamp)
	b.WriteString(strings.ToUpper(method))
	b.WriteString(requestPath)
	if query != "" {
		b.WriteByte('?')
		b.WriteString(query)
	}
	if len(body) > 0 {
		b.Write(body)
	}
	return b.String()
}

// sign computes the base64-encoded HMAC-SHA256 of the canonical string.
func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
