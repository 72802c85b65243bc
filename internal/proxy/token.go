package proxy

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// TokenBucket is the width of one issuance time bucket.
	TokenBucket = time.Minute

	// DefaultSkewBuckets is how many buckets a token may lag or lead the
	// verifier's clock.
	DefaultSkewBuckets = 5

	tokenKeyLen = 16
)

var tokenEncoding = base64.RawURLEncoding

// Codec issues and verifies URL-bound tokens. A token is the XOR of
// "url:bucket" with the first 16 bytes of the shared secret, base64url
// encoded without padding. It is a capability token, not a MAC: anyone who
// learns the secret can mint tokens, and the cipher offers no integrity
// beyond the exact-match check in Verify.
//
// Nothing is stored; any instance sharing the secret verifies any token.
type Codec struct {
	key  []byte
	skew int64
	now  func() time.Time
}

// NewCodec returns a Codec keyed by secret. skewBuckets of 0 accepts only
// tokens from the current bucket.
func NewCodec(secret string, skewBuckets int) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("token secret must not be empty")
	}
	if skewBuckets < 0 {
		return nil, fmt.Errorf("token skew %d must not be negative", skewBuckets)
	}
	key := []byte(secret)
	if len(key) > tokenKeyLen {
		key = key[:tokenKeyLen]
	}
	return &Codec{key: key, skew: int64(skewBuckets), now: time.Now}, nil
}

// Lifetime is the longest a freshly issued token stays valid.
func (c *Codec) Lifetime() time.Duration {
	return time.Duration(c.skew+1) * TokenBucket
}

// Issue mints a token for target at the current time.
func (c *Codec) Issue(target string) string {
	return c.issueAt(target, c.now())
}

func (c *Codec) issueAt(target string, t time.Time) string {
	payload := target + ":" + strconv.FormatInt(bucketOf(t), 10)
	return tokenEncoding.EncodeToString(c.xor([]byte(payload)))
}

// Verify reports whether token was issued for exactly target within the
// allowed skew. Any decode failure is a rejection.
func (c *Codec) Verify(token, target string) bool {
	if token == "" {
		return false
	}
	raw, err := tokenEncoding.DecodeString(token)
	if err != nil || len(raw) == 0 {
		return false
	}
	payload := string(c.xor(raw))

	i := strings.LastIndexByte(payload, ':')
	if i < 0 {
		return false
	}
	bucket, err := strconv.ParseInt(payload[i+1:], 10, 64)
	if err != nil {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(payload[:i]), []byte(target)) != 1 {
		return false
	}

	diff := bucketOf(c.now()) - bucket
	if diff < 0 {
		diff = -diff
	}
	return diff <= c.skew
}

func (c *Codec) xor(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[i] ^ c.key[i%len(c.key)]
	}
	return out
}

func bucketOf(t time.Time) int64 {
	s := t.Unix()
	b := int64(TokenBucket / time.Second)
	q := s / b
	if s%b != 0 && s < 0 {
		q--
	}
	return q
}
