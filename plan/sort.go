package plan

import (
	"bytes"
	"encoding/binary"
)

type Direction int8

const (
	Ascending Direction = iota
	Descending
)

// SortSpec describes the sort key a gather must preserve across workers:
// a fixed-width key at a fixed offset inside the row image, compared either
// bytewise or as a big-endian unsigned integer.
type SortSpec struct {
	KeyOffset int
	KeyLen    int
	Numeric   bool
	Direction Direction
}

// Comparator builds the row comparator for the ordered merge. Rows too short
// to carry the key compare by whatever key bytes they have, so malformed
// rows cannot panic the merge.
func (s *SortSpec) Comparator() func(a, b []byte) int {
	cmp := func(a, b []byte) int {
		ka := s.key(a)
		kb := s.key(b)
		if s.Numeric && len(ka) == 8 && len(kb) == 8 {
			ua := binary.BigEndian.Uint64(ka)
			ub := binary.BigEndian.Uint64(kb)
			switch {
			case ua < ub:
				return -1
			case ua > ub:
				return 1
			default:
				return 0
			}
		}
		return bytes.Compare(ka, kb)
	}
	if s.Direction == Descending {
		return func(a, b []byte) int { return -cmp(a, b) }
	}
	return cmp
}

func (s *SortSpec) key(row []byte) []byte {
	if s.KeyOffset >= len(row) {
		return nil
	}
	end := s.KeyOffset + s.KeyLen
	if end > len(row) {
		end = len(row)
	}
	return row[s.KeyOffset:end]
}
