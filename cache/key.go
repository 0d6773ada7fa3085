package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Key is the content-addressed cache fingerprint: a SHA-256 digest over the
// canonical concatenation of every request field that affects synthesis
// output. Two requests are cache-equivalent iff their keys are equal.
type Key [sha256.Size]byte

// String renders the key as fixed-width hex, used for remote tier storage.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// Fingerprint computes the cache key for a synthesis request.
//
// The canonical form is "text voice mode rate" with the preferred format and
// translation language appended, space-separated, only when present. Rate
// defaults to 0 when the caller did not supply one.
func Fingerprint(text, voice, mode string, speakingRate float32, preferredFormat, translationLang string) Key {
	var b strings.Builder
	b.WriteString(text)
	b.WriteByte(' ')
	b.WriteString(voice)
	b.WriteByte(' ')
	b.WriteString(mode)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatFloat(float64(speakingRate), 'g', -1, 32))

	if preferredFormat != "" {
		b.WriteByte(' ')
		b.WriteString(preferredFormat)
	}
	if translationLang != "" {
		b.WriteByte(' ')
		b.WriteString(translationLang)
	}

	return sha256.Sum256([]byte(b.String()))
}
