package streams

import (
	"fmt"
	"strconv"
	"strings"
)

// ID is a stream position: milliseconds plus a sequence number within that
// millisecond, the layout Redis uses for stream entry ids.
type ID struct {
	Ms  uint64
	Seq uint64
}

// Beginning is the position before the first message of any stream.
var Beginning = ID{}

// ParseID parses "<ms>-<seq>" or a bare "<ms>".
func ParseID(s string) (ID, error) {
	msPart, seqPart, hasSeq := strings.Cut(strings.TrimSpace(s), "-")
	ms, err := strconv.ParseUint(msPart, 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("invalid stream id %q: %w", s, err)
	}
	var seq uint64
	if hasSeq {
		if seq, err = strconv.ParseUint(seqPart, 10, 64); err != nil {
			return ID{}, fmt.Errorf("invalid stream id %q: %w", s, err)
		}
	}
	return ID{Ms: ms, Seq: seq}, nil
}

// MustParseID is ParseID for constants and tests.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ID) String() string {
	return strconv.FormatUint(id.Ms, 10) + "-" + strconv.FormatUint(id.Seq, 10)
}

// Compare returns -1, 0 or +1 as id is before, equal to, or after other.
func (id ID) Compare(other ID) int {
	switch {
	case id.Ms < other.Ms:
		return -1
	case id.Ms > other.Ms:
		return 1
	case id.Seq < other.Seq:
		return -1
	case id.Seq > other.Seq:
		return 1
	}
	return 0
}

func (id ID) After(other ID) bool { return id.Compare(other) > 0 }

func (id ID) IsBeginning() bool { return id == Beginning }

// Next returns the smallest id strictly after id.
func (id ID) Next() ID {
	if id.Seq == ^uint64(0) {
		return ID{Ms: id.Ms + 1}
	}
	return ID{Ms: id.Ms, Seq: id.Seq + 1}
}

func (id ID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
