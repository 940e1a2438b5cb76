package bitmex

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	restSignPrefix = "/api/v1"
	streamSignPath = "/realtime"
	// Signatures stay valid this long past issuance; covers transit latency
	// and modest clock skew against the venue.
	signatureLife = 30 * time.Second
)

// Signer produces the venue's HMAC-SHA256 authentication material for both
// channels. Signing is a pure function of its inputs.
type Signer struct {
	key    string
	secret []byte
}

// NewSigner builds a signer from the API key pair. An empty secret still
// signs; the venue rejects the result, not the client.
func NewSigner(key, secret string) *Signer {
	return &Signer{key: key, secret: []byte(secret)}
}

// RequestAuth is the product of signing one REST request: the auth and content
// headers plus the exact encoded query and body the signature covers. Callers
// must send these bytes verbatim or the venue recomputes a different digest.
type RequestAuth struct {
	Headers http.Header
	Query   string
	Body    string
}

// SignRequest signs a REST call. The canonical string is
// method + "/api/v1" + path["?"+query] + expires + body, where query and body
// are URL-encoded forms and expires is Unix seconds.
func (s *Signer) SignRequest(method, path string, query, form url.Values, now time.Time) RequestAuth {
	expires := strconv.FormatInt(now.Add(signatureLife).Unix(), 10)

	encodedQuery := query.Encode()
	signedPath := path
	if encodedQuery != "" {
		signedPath += "?" + encodedQuery
	}
	body := form.Encode()

	signature := s.digest(method + restSignPrefix + signedPath + expires + body)

	headers := http.Header{}
	headers.Set("Content-Type", "application/x-www-form-urlencoded")
	headers.Set("Accept", "application/json")
	headers.Set("api-key", s.key)
	headers.Set("api-expires", expires)
	headers.Set("api-signature", signature)

	return RequestAuth{Headers: headers, Query: encodedQuery, Body: body}
}

// SignStream signs the websocket authentication op. The canonical string is
// "GET" + "/realtime" + expires.
func (s *Signer) SignStream(now time.Time) (int64, string) {
	expires := now.Add(signatureLife).Unix()
	signature := s.digest(http.MethodGet + streamSignPath + strconv.FormatInt(expires, 10))
	return expires, signature
}

func (s *Signer) digest(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
