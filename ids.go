package paygate

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// newULID returns a new ULID string (26 chars).
// ULIDs sort by creation time, which keeps ledger listings ordered.
func newULID(now time.Time) string {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}
