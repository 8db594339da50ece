// Package webhook authenticates inbound telephony callbacks. A request is
// accepted only when its HMAC signature matches the shared secret and its
// source address falls inside the provider's allow-listed ranges.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Rejection reasons. They are distinguished for the audit trail only; the
// HTTP response to the caller must stay identical for every reason.
var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrBadSignature     = errors.New("invalid webhook signature")
	ErrStaleTimestamp   = errors.New("stale webhook timestamp")
	ErrDisallowedSource = errors.New("webhook source not allow-listed")
)

// MaxTimestampSkew bounds how old (or future-dated) a signed request may be.
const MaxTimestampSkew = 5 * time.Minute

// Request is the transient view of an inbound webhook. It is validated once
// and never stored.
type Request struct {
	SourceIP  string // remote address, without port
	Signature string // hex HMAC from the signature header
	Timestamp string // unix seconds from the timestamp header
	Body      []byte // raw request body
}

// Validator checks webhook authenticity. It is immutable after construction
// and safe for concurrent use.
type Validator struct {
	secret  []byte
	allowed []*net.IPNet
}

// New creates a Validator for the given shared secret and allow-listed CIDR
// ranges. An empty allow list rejects every source.
func New(secret string, allowedCIDRs []string) (*Validator, error) {
	if secret == "" {
		return nil, errors.New("webhook secret is required")
	}

	nets := make([]*net.IPNet, 0, len(allowedCIDRs))
	for _, cidr := range allowedCIDRs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid allow-list CIDR %q: %w", cidr, err)
		}
		nets = append(nets, network)
	}

	return &Validator{secret: []byte(secret), allowed: nets}, nil
}

// Validate checks the request at time now. It returns nil for an authentic
// request, or one of the package's rejection errors.
func (v *Validator) Validate(req Request, now time.Time) error {
	if !v.sourceAllowed(req.SourceIP) {
		return ErrDisallowedSource
	}
	if req.Signature == "" || req.Timestamp == "" {
		return ErrMissingSignature
	}

	ts, err := strconv.ParseInt(req.Timestamp, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	requestTime := time.Unix(ts, 0)
	if now.Sub(requestTime) > MaxTimestampSkew || requestTime.Sub(now) > MaxTimestampSkew {
		return ErrStaleTimestamp
	}

	expected := v.Sign(req.Timestamp, req.Body)
	if !hmac.Equal([]byte(expected), []byte(req.Signature)) {
		return ErrBadSignature
	}

	return nil
}

// Sign computes the hex HMAC-SHA256 over "v1:<timestamp>:<body>". Exposed so
// tests and outbound verification tooling produce identical signatures.
func (v *Validator) Sign(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte("v1:" + timestamp + ":"))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (v *Validator) sourceAllowed(sourceIP string) bool {
	ip := net.ParseIP(sourceIP)
	if ip == nil {
		return false
	}
	for _, network := range v.allowed {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
