package journal

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	idMu sync.Mutex
	mono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	// monotonic entropy keeps ids from the same millisecond increasing
	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0) // #nosec G404 -- ids, not secrets
}

// newID returns a ULID for a change recorded at t.
func newID(t time.Time) (string, error) {
	idMu.Lock()
	defer idMu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t), mono)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
