package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Identity is the user record embedded in a verified initData payload.
type Identity struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
	PhotoURL  string `json:"photo_url,omitempty"`
}

// Name joins first and last name the way the storefront displays users.
func (id *Identity) Name() string {
	if id.LastName == "" {
		return id.FirstName
	}
	return id.FirstName + " " + id.LastName
}

// Verifier validates Telegram WebApp initData payloads against the bot token.
// All failures yield (nil, false); it never panics or returns an error past
// this boundary.
type Verifier struct {
	botToken   string
	maxAuthAge time.Duration // 0 disables the replay limit

	nowFunc func() time.Time // for tests
}

func NewVerifier(botToken string, maxAuthAge time.Duration) *Verifier {
	return &Verifier{
		botToken:   botToken,
		maxAuthAge: maxAuthAge,
		nowFunc:    time.Now,
	}
}

const digestLen = sha256.Size

// Verify checks the payload hash per the Telegram WebApp scheme:
// secret = HMAC_SHA256(key=botToken, msg="WebAppData"),
// expected = HMAC_SHA256(key=secret, msg=dataCheckString).
// The supplied hash and the computed digest must both decode to exactly 32
// bytes before the constant-time comparison runs; malformed lengths are
// rejected without reaching the compare.
func (v *Verifier) Verify(initData string) (*Identity, bool) {
	if initData == "" || v.botToken == "" {
		return nil, false
	}

	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, false
	}
	suppliedHex := values.Get("hash")
	if suppliedHex == "" {
		return nil, false
	}
	values.Del("hash")

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+values.Get(k))
	}
	dataCheck := strings.Join(pairs, "\n")

	secret := hmac.New(sha256.New, []byte(v.botToken))
	secret.Write([]byte("WebAppData"))
	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(dataCheck))
	computed := mac.Sum(nil)

	supplied, err := hex.DecodeString(strings.ToLower(suppliedHex))
	if err != nil {
		return nil, false
	}
	if len(supplied) != digestLen || len(computed) != digestLen {
		return nil, false
	}
	if !hmac.Equal(computed, supplied) {
		return nil, false
	}

	if v.maxAuthAge > 0 {
		authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
		if err != nil {
			return nil, false
		}
		if v.nowFunc().Sub(time.Unix(authDate, 0)) > v.maxAuthAge {
			return nil, false
		}
	}

	userStr := values.Get("user")
	if userStr == "" {
		return nil, false
	}
	var id Identity
	if err := json.Unmarshal([]byte(userStr), &id); err != nil {
		return nil, false
	}
	if id.ID == 0 {
		return nil, false
	}
	return &id, true
}

// InitDataFromRequest extracts initData from "Authorization: tma <initData>"
// or the X-Telegram-Init-Data header.
func InitDataFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "tma ") {
		return strings.TrimSpace(auth[len("tma "):])
	}
	return strings.TrimSpace(r.Header.Get("X-Telegram-Init-Data"))
}

// Platforms accepted when strict mobile mode is on. An absent header passes:
// a valid initData is sufficient when the client does not report its platform.
var allowedMobilePlatforms = map[string]bool{"android": true, "ios": true}

// AllowedPlatform checks the X-Telegram-Platform header under strict mode.
func AllowedPlatform(r *http.Request, strict bool) bool {
	if !strict {
		return true
	}
	platform := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Telegram-Platform")))
	if platform == "" {
		return true
	}
	return allowedMobilePlatforms[platform]
}
