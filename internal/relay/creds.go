package relay

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"time"
)

// Credentials is a time-boxed TURN username/credential pair plus the ICE
// server URLs the pair is valid for.
type Credentials struct {
	Username   string   `json:"username"`
	Credential string   `json:"credential"`
	TTL        int64    `json:"ttl"`
	URLs       []string `json:"urls,omitempty"`
}

// MintCredentials issues credentials for a requester id using the coturn
// REST scheme: the username embeds the expiry timestamp and the credential
// is base64(HMAC-SHA1(secret, username)). Nothing is stored; the TURN
// server recomputes the same HMAC to verify.
func MintCredentials(secret, id string, ttl time.Duration, urls []string, now time.Time) Credentials {
	expiry := now.Add(ttl).Unix()
	username := fmt.Sprintf("%d:%s", expiry, id)

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(username))

	return Credentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		TTL:        int64(ttl.Seconds()),
		URLs:       urls,
	}
}
