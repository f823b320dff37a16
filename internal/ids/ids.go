package ids

import (
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns an identifier whose timestamp component is t.
func NewAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Suffix returns n lower-case characters taken from the random part of a fresh ULID.
// n is clamped to the 16 random characters a ULID carries.
func Suffix(n int) string {
	if n <= 0 {
		return ""
	}
	if n > 16 {
		n = 16
	}
	id := New()
	return strings.ToLower(id[len(id)-n:])
}

// Serial builds a human-readable permit serial such as PTW-20260118-4K7Q2M.
func Serial(prefix string, t time.Time) string {
	id := New()
	return prefix + "-" + t.UTC().Format("20060102") + "-" + id[len(id)-6:]
}
