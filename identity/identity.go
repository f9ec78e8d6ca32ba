package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"turnsync/models"
)

// Sources that reuse booking tokens across properties. Their tokens must
// be scoped by property id or two properties sharing a portal account
// collide on the same key.
var propertyScopedTokens = map[models.Source]bool{
	models.SourcePortal: true,
}

// Key derives the stable identity key for an incoming event.
//
// Re-ingesting byte-identical input always yields the same key; the
// idempotence of the whole pipeline hangs on that.
func Key(ev *models.SourceEvent) string {
	token := NormalizeToken(ev.Token)
	if token != "" {
		if propertyScopedTokens[ev.Source] {
			return token + "|" + ev.PropertyID
		}
		return token
	}
	return synthesize(ev)
}

// synthesize builds a deterministic placeholder key for events with no
// source token, from the fields that define the stay itself.
func synthesize(ev *models.SourceEvent) string {
	checkOut := ""
	if ev.CheckOut != nil {
		checkOut = ev.CheckOut.Format("2006-01-02")
	}
	input := fmt.Sprintf("%s|%s|%s|%s",
		ev.Source,
		ev.PropertyID,
		ev.CheckIn.Format("2006-01-02"),
		checkOut,
	)
	hash := sha256.Sum256([]byte(input))
	return "syn-" + hex.EncodeToString(hash[:16])
}

// NormalizeToken strips the decoration sources wrap around booking ids
// (whitespace, case, a few known prefixes) so the same booking hashes to
// the same key across exports.
func NormalizeToken(token string) string {
	token = strings.TrimSpace(token)
	token = strings.ToUpper(token)
	for _, prefix := range []string{"RES-", "BKG-", "#"} {
		token = strings.TrimPrefix(token, prefix)
	}
	return token
}

// Synthesized reports whether a key was synthesized rather than derived
// from a source token.
func Synthesized(key string) bool {
	return strings.HasPrefix(key, "syn-")
}
