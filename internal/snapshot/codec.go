package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hyperengineering/watchsync/internal/model"
)

// ErrChecksumMismatch indicates a payload whose stored checksum does not
// match its content. The payload was corrupted somewhere between producer
// and consumer; merging it would propagate the corruption.
var ErrChecksumMismatch = errors.New("snapshot content checksum mismatch")

// DecodeError wraps any failure to turn a remote payload into a usable
// snapshot, after the legacy fallbacks have been tried.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode snapshot: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode snapshot: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Encode serializes the snapshot, refreshing its content checksum first.
func Encode(s *Snapshot) ([]byte, error) {
	s.ContentChecksum = Checksum(s.Lists)
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// legacyEnvelope is the pre-checksum wire format. Early schema versions
// used camelCase envelope keys and carried no checksum; they still appear
// in remote stores that have not been republished since.
type legacyEnvelope struct {
	FormatVersion int          `json:"formatVersion"`
	ProducedAt    time.Time    `json:"producedAt"`
	OriginReplica string       `json:"originReplica"`
	Lists         []model.List `json:"lists"`
}

// wireHeader sniffs which envelope variant a payload carries before
// committing to a full decode.
type wireHeader struct {
	Version       *int `json:"version"`
	LegacyVersion *int `json:"formatVersion"`
}

// Decode parses a snapshot payload. Current-format payloads have their
// checksum verified (or recomputed when absent); legacy payloads are
// normalized into the current in-memory shape with a recomputed checksum.
func Decode(data []byte) (*Snapshot, error) {
	var head wireHeader
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, &DecodeError{Reason: "malformed payload", Err: err}
	}

	if head.Version == nil && head.LegacyVersion != nil {
		return decodeLegacy(data)
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, &DecodeError{Reason: "malformed current-format payload", Err: err}
	}

	computed := Checksum(s.Lists)
	switch s.ContentChecksum {
	case "":
		// Checksum-less payloads predate the field; recompute rather
		// than reject.
		s.ContentChecksum = computed
	case computed:
	default:
		return nil, &DecodeError{Reason: "content checksum mismatch", Err: ErrChecksumMismatch}
	}
	return &s, nil
}

func decodeLegacy(data []byte) (*Snapshot, error) {
	var legacy legacyEnvelope
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, &DecodeError{Reason: "malformed legacy payload", Err: err}
	}
	s := &Snapshot{
		Version:       legacy.FormatVersion,
		ProducedAt:    legacy.ProducedAt,
		OriginReplica: legacy.OriginReplica,
		Lists:         legacy.Lists,
	}
	if s.Version < 1 {
		s.Version = 1
	}
	s.ContentChecksum = Checksum(s.Lists)
	return s, nil
}
