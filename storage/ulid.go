package storage

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// idSource serializes ULID generation so two records appended in the same
// millisecond still sort by monotonic entropy rather than racing (spec
// §4.7: state-changes, snapshots, and events are each identified by a
// ULID). No repo in the retrieval pack vendors a ULID implementation;
// oklog/ulid/v2 is the one dependency this module pulls in without a
// grounding source in the pack (see DESIGN.md).
var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(rand.Reader, 0)
)

func newULID() ulid.ULID {
	idMu.Lock()
	defer idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), idEntropy)
}
