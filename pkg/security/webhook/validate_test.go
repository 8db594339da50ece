package webhook

import (
	"strconv"
	"testing"
	"time"

	"github.com/matryer/is"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func signedRequest(t *testing.T, v *Validator, body string) Request {
	t.Helper()
	ts := strconv.FormatInt(testNow.Unix(), 10)
	return Request{
		SourceIP:  "54.172.60.5",
		Signature: v.Sign(ts, []byte(body)),
		Timestamp: ts,
		Body:      []byte(body),
	}
}

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New("shared-secret", []string{"54.172.60.0/23", "10.0.0.0/8"})
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestValidate_Accepted(t *testing.T) {
	is := is.New(t)
	v := newTestValidator(t)

	req := signedRequest(t, v, `{"CallSid":"CA123","From":"+15125551234"}`)
	is.NoErr(v.Validate(req, testNow))
}

func TestValidate_Rejections(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name    string
		mutate  func(*Request)
		wantErr error
	}{
		{
			"bad signature",
			func(r *Request) { r.Signature = "deadbeef" },
			ErrBadSignature,
		},
		{
			"tampered body",
			func(r *Request) { r.Body = []byte(`{"CallSid":"CA999"}`) },
			ErrBadSignature,
		},
		{
			"missing signature",
			func(r *Request) { r.Signature = "" },
			ErrMissingSignature,
		},
		{
			"non-numeric timestamp",
			func(r *Request) { r.Timestamp = "yesterday" },
			ErrBadSignature,
		},
		{
			"disallowed source",
			func(r *Request) { r.SourceIP = "203.0.113.50" },
			ErrDisallowedSource,
		},
		{
			"unparseable source",
			func(r *Request) { r.SourceIP = "not-an-ip" },
			ErrDisallowedSource,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			req := signedRequest(t, v, "body")
			tt.mutate(&req)
			is.Equal(v.Validate(req, testNow), tt.wantErr)
		})
	}
}

func TestValidate_StaleTimestamp(t *testing.T) {
	is := is.New(t)
	v := newTestValidator(t)

	old := testNow.Add(-6 * time.Minute)
	ts := strconv.FormatInt(old.Unix(), 10)
	req := Request{
		SourceIP:  "10.1.2.3",
		Signature: v.Sign(ts, []byte("body")),
		Timestamp: ts,
		Body:      []byte("body"),
	}
	is.Equal(v.Validate(req, testNow), ErrStaleTimestamp)

	// A future-dated request is just as stale.
	future := testNow.Add(6 * time.Minute)
	ts = strconv.FormatInt(future.Unix(), 10)
	req.Signature = v.Sign(ts, []byte("body"))
	req.Timestamp = ts
	is.Equal(v.Validate(req, testNow), ErrStaleTimestamp)
}

func TestNew_Errors(t *testing.T) {
	is := is.New(t)

	_, err := New("", []string{"10.0.0.0/8"})
	is.True(err != nil) // empty secret rejected

	_, err = New("secret", []string{"not-a-cidr"})
	is.True(err != nil) // bad CIDR rejected
}

func TestValidate_EmptyAllowListRejectsAll(t *testing.T) {
	is := is.New(t)
	v, err := New("secret", nil)
	is.NoErr(err)

	req := signedRequest(t, v, "body")
	is.Equal(v.Validate(req, testNow), ErrDisallowedSource)
}
