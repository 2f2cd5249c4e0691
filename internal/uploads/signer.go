package uploads

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"strconv"
	"time"
)

// Signer issues and checks expiring HMAC signatures over resource names.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a signer keyed by secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), now: time.Now}
}

// Sign returns the "expires=...&sig=..." query authorizing resource for ttl.
func (s *Signer) Sign(resource string, ttl time.Duration) (string, time.Time) {
	expiresAt := s.now().Add(ttl).Truncate(time.Second)
	expires := strconv.FormatInt(expiresAt.Unix(), 10)
	query := url.Values{}
	query.Set("expires", expires)
	query.Set("sig", s.signature(resource, expires))
	return query.Encode(), expiresAt
}

// Verify checks a signature produced by Sign.
func (s *Signer) Verify(resource, expires, sig string) error {
	unix, err := strconv.ParseInt(expires, 10, 64)
	if err != nil || sig == "" {
		return ErrInvalidSignature
	}
	if s.now().Unix() > unix {
		return ErrInvalidSignature
	}
	expected := s.signature(resource, expires)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrInvalidSignature
	}
	return nil
}

func (s *Signer) signature(resource, expires string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(resource))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(expires))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
