package boost

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"

	"github.com/valueverse/boostbot/internal/helipad"
)

// persistedSession is the on-disk form of an in-flight session. The snapshot
// file is a JSON array of these, fully rewritten on every save.
type persistedSession struct {
	SessionKey      string                  `json:"session_key"`
	WinningSplit    *helipad.PaymentEvent   `json:"winning_split"`
	AllSplits       []*helipad.PaymentEvent `json:"all_splits"`
	ExpiresAtMillis int64                   `json:"expires_at_ms"`
}

func writeSnapshot(path string, sessions []persistedSession) error {
	if sessions == nil {
		sessions = []persistedSession{}
	}
	payload, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}

// readSnapshot loads the persisted sessions. A missing file means a clean
// start, not an error.
func readSnapshot(path string) ([]persistedSession, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var sessions []persistedSession
	if err := json.Unmarshal(payload, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}
