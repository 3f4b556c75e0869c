package admission

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxAge bounds how old a signed identity payload may be.
const DefaultMaxAge = 300 * time.Second

var (
	ErrMissingSignature = errors.New("initdata: missing hash")
	ErrBadSignature     = errors.New("initdata: signature mismatch")
	ErrMissingAuthDate  = errors.New("initdata: missing or invalid auth_date")
	ErrExpired          = errors.New("initdata: auth_date too old")
	ErrMissingUser      = errors.New("initdata: missing user id")
)

// Identity is a verified mini-app caller.
type Identity struct {
	UserID   int64
	AuthDate time.Time
	Fields   url.Values
}

// InitDataVerifier checks mini-app initData signatures against the bot token.
type InitDataVerifier struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

func NewInitDataVerifier(botToken string, maxAge time.Duration, now func() time.Time) *InitDataVerifier {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if now == nil {
		now = time.Now
	}
	return &InitDataVerifier{secret: secretKey(botToken), maxAge: maxAge, now: now}
}

// Verify validates raw initData and extracts the caller's user id.
func (v *InitDataVerifier) Verify(raw string) (Identity, error) {
	fields, err := url.ParseQuery(raw)
	if err != nil {
		return Identity{}, fmt.Errorf("initdata: %w", err)
	}
	received := strings.ToLower(fields.Get("hash"))
	if received == "" {
		return Identity{}, ErrMissingSignature
	}

	expected := checkHash(v.secret, fields)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
		return Identity{}, ErrBadSignature
	}

	authUnix, err := strconv.ParseInt(fields.Get("auth_date"), 10, 64)
	if err != nil || authUnix <= 0 {
		return Identity{}, ErrMissingAuthDate
	}
	authDate := time.Unix(authUnix, 0)
	if age := v.now().Sub(authDate); age > v.maxAge {
		return Identity{}, fmt.Errorf("%w: age %s", ErrExpired, age.Truncate(time.Second))
	}

	var user struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal([]byte(fields.Get("user")), &user); err != nil || user.ID == 0 {
		return Identity{}, ErrMissingUser
	}

	return Identity{UserID: user.ID, AuthDate: authDate, Fields: fields}, nil
}

// SignInitData returns fields encoded as initData with a valid hash. The
// mini-app platform does this for real clients; tools and tests use it to
// forge requests for a known token.
func SignInitData(botToken string, fields url.Values) string {
	signed := url.Values{}
	for k, vs := range fields {
		if k != "hash" {
			signed[k] = vs
		}
	}
	signed.Set("hash", checkHash(secretKey(botToken), signed))
	return signed.Encode()
}

func secretKey(botToken string) []byte {
	mac := hmac.New(sha256.New, []byte("WebAppData"))
	mac.Write([]byte(botToken))
	return mac.Sum(nil)
}

// checkHash builds the data-check string from every field but hash, sorted
// by key as key=value lines, and signs it with secret.
func checkHash(secret []byte, fields url.Values) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k != "hash" {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+fields.Get(k))
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(mac.Sum(nil))
}
