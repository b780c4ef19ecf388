package qacache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"

	"github.com/haasonsaas/qaforge/pkg/models"
)

// Key derives the stable sampling key for a generation request: a sha256
// fingerprint over the canonical window content, the model identifier, and
// the difficulty target. Session ids and span offsets are sorted before
// hashing so logically identical windows always produce the same key.
func Key(window models.SamplingWindow, model string, difficulty models.Difficulty) string {
	h := sha256.New()

	ids := append([]string(nil), window.SessionIDs...)
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(h, "s:%s;", id)
	}

	spans := make([]string, 0, len(window.Evidences))
	for _, ev := range window.Evidences {
		spans = append(spans, fmt.Sprintf("e:%s:%d:%d;", ev.SessionID, ev.StartTurn, ev.EndTurn))
	}
	sort.Strings(spans)
	for _, s := range spans {
		io.WriteString(h, s)
	}

	fmt.Fprintf(h, "t:%d;", window.SessionThreshold)
	fmt.Fprintf(h, "m:%s;", model)
	fmt.Fprintf(h, "d:%s;", difficulty)

	return hex.EncodeToString(h.Sum(nil))
}
