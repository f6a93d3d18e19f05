// Package identity manages the anonymous identities chat participants are
// known by, and the per-participant sessions built on them.
package identity

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Palette is the set of colors new identities pick from.
var Palette = []string{"FF6B6B", "4ECDC4", "45B7D1", "96CEB4", "FFEEAD", "D4A5A5", "9B59B6", "3498DB"}

const (
	// CookieName carries the identity between requests.
	CookieName = "userIdentity"
	// CookieMaxAge is one year.
	CookieMaxAge = 365 * 24 * time.Hour

	maxDeviceIDLen = 32
	nicknameLen    = 10
)

var (
	// ErrInvalidIdentity is returned for malformed identity strings.
	ErrInvalidIdentity = errors.New("invalid identity")

	identityPattern = regexp.MustCompile(`^([0-9]{1,32})_([0-9A-Fa-f]{3}|[0-9A-Fa-f]{6})$`)
	nicknamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)
	colorPattern    = regexp.MustCompile(`(?i)^#([0-9A-F]{3}){1,2}$`)
)

// Identity is "<device digits>_<color hex>". The color is part of the
// identity, so changing it issues a new one.
type Identity struct {
	DeviceID string
	Color    string
}

// New creates an identity with a random device ID and palette color.
func New() Identity {
	return Identity{DeviceID: newDeviceID(), Color: Palette[randomInt(len(Palette))]}
}

// Parse reads an identity string.
func Parse(s string) (Identity, error) {
	m := identityPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	return Identity{DeviceID: m[1], Color: strings.ToUpper(m[2])}, nil
}

func (id Identity) String() string {
	return id.DeviceID + "_" + id.Color
}

// IsZero reports whether id is the zero Identity.
func (id Identity) IsZero() bool {
	return id.DeviceID == "" && id.Color == ""
}

// SafeKey is the identity in a form usable as a store key.
func (id Identity) SafeKey() string {
	return SafeKey(id.String())
}

// ColorHex returns the color with a leading "#".
func (id Identity) ColorHex() string {
	return "#" + id.Color
}

// DefaultNickname is the first ten digits of the device ID.
func (id Identity) DefaultNickname() string {
	if len(id.DeviceID) <= nicknameLen {
		return id.DeviceID
	}
	return id.DeviceID[:nicknameLen]
}

// WithColor returns the identity re-issued with a new "#RGB" or "#RRGGBB"
// color.
func (id Identity) WithColor(color string) (Identity, error) {
	if !ValidColor(color) {
		return Identity{}, fmt.Errorf("%w: color %q", ErrInvalidIdentity, color)
	}
	return Identity{DeviceID: id.DeviceID, Color: strings.ToUpper(strings.TrimPrefix(color, "#"))}, nil
}

var safeKeyReplacer = strings.NewReplacer("#", "_", "$", "_", ".", "_", "[", "_", "]", "_", "/", "_")

// SafeKey replaces the characters store keys cannot hold.
func SafeKey(s string) string {
	return safeKeyReplacer.Replace(s)
}

// ValidNickname reports whether s is 3-20 letters, digits or underscores.
func ValidNickname(s string) bool {
	return nicknamePattern.MatchString(s)
}

// ValidColor reports whether s is a "#RGB" or "#RRGGBB" color.
func ValidColor(s string) bool {
	return colorPattern.MatchString(s)
}

// Cookie returns the cookie persisting id.
func Cookie(id Identity, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    id.String(),
		Path:     "/",
		MaxAge:   int(CookieMaxAge / time.Second),
		Expires:  time.Now().Add(CookieMaxAge),
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

// ClearCookie returns a cookie that deletes the identity cookie.
func ClearCookie() *http.Cookie {
	return &http.Cookie{Name: CookieName, Value: "", Path: "/", MaxAge: -1}
}

// FromRequest reads the identity cookie of r.
func FromRequest(r *http.Request) (Identity, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return Identity{}, false
	}
	id, err := Parse(c.Value)
	if err != nil {
		return Identity{}, false
	}
	return id, true
}

// LoadOrCreate reads the identity stored at path, creating and saving a
// new one when the file does not exist. created reports which happened.
func LoadOrCreate(path string) (id Identity, created bool, err error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		id, err = Parse(string(data))
		return id, false, err
	case !errors.Is(err, os.ErrNotExist):
		return Identity{}, false, fmt.Errorf("read identity: %w", err)
	}

	id = New()
	if err := Save(path, id); err != nil {
		return Identity{}, false, err
	}
	return id, true, nil
}

// Save writes id to path.
func Save(path string, id Identity) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create identity directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(id.String()+"\n"), 0600); err != nil {
		return fmt.Errorf("write identity: %w", err)
	}
	return nil
}

// newDeviceID concatenates four random uint32 values in decimal and keeps
// at most 32 digits.
func newDeviceID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(fmt.Sprintf("identity: crypto/rand failed: %v", err))
	}
	var b strings.Builder
	for i := 0; i < 4; i++ {
		b.WriteString(strconv.FormatUint(uint64(binary.BigEndian.Uint32(buf[i*4:])), 10))
	}
	id := b.String()
	if len(id) > maxDeviceIDLen {
		id = id[:maxDeviceIDLen]
	}
	return id
}

func randomInt(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}
