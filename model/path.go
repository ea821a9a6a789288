package model

import (
	"encoding/binary"
	"strings"
	"sync"

	"github.com/zeebo/xxh3"
)

// Path is the structural identity of an operation. Two operations with the
// same path share one cache entry. A path is an ordered sequence of segments;
// component-wise prefix equality supports range lookups over the registry
// ("every store under mountains/search").
//
// Paths are immutable once constructed. The 128-bit digest is computed once
// and used for bucketing; full equality always compares segments, so hash
// collisions are never merged silently.
type Path struct {
	segments []string
	v        uint64
	hi       uint64
	lo       uint64
}

// NewPath builds a path from ordered segments.
func NewPath(segments ...string) Path {
	segs := make([]string, len(segments))
	copy(segs, segments)
	p := Path{segments: segs}
	p.v, p.hi, p.lo = digest(segs)
	return p
}

// Append returns a new path with the given segments appended. The receiver is
// left untouched.
func (p Path) Append(segments ...string) Path {
	segs := make([]string, 0, len(p.segments)+len(segments))
	segs = append(segs, p.segments...)
	segs = append(segs, segments...)
	return NewPath(segs...)
}

// Hash returns the 64-bit bucketing key.
func (p Path) Hash() uint64 { return p.v }

// Len returns the number of segments.
func (p Path) Len() int { return len(p.segments) }

// Segment returns the i-th segment.
func (p Path) Segment(i int) string { return p.segments[i] }

// Segments returns a copy of the ordered segments.
func (p Path) Segments() []string {
	segs := make([]string, len(p.segments))
	copy(segs, p.segments)
	return segs
}

// IsTheSame reports full structural equality. The digest triple is checked
// first as a fast path; segments are authoritative.
func (p Path) IsTheSame(other Path) bool {
	if p.v != other.v || p.hi != other.hi || p.lo != other.lo {
		return false
	}
	if len(p.segments) != len(other.segments) {
		return false
	}
	for i := range p.segments {
		if p.segments[i] != other.segments[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether the first prefix.Len() segments of p equal prefix,
// component-wise. Every path is a prefix of itself; the empty path is a prefix
// of everything.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix.segments) > len(p.segments) {
		return false
	}
	for i := range prefix.segments {
		if p.segments[i] != prefix.segments[i] {
			return false
		}
	}
	return true
}

func (p Path) String() string {
	return strings.Join(p.segments, "/")
}

var hasherPool = sync.Pool{New: func() any { return xxh3.New() }}

func digest(segments []string) (v, hi, lo uint64) {
	// acquire reusable hasher
	hasher := hasherPool.Get().(*xxh3.Hasher)
	hasher.Reset()

	// length-prefix each segment so ["ab"] and ["a","b"] never collide
	var lenBuf [8]byte
	for _, seg := range segments {
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(seg)))
		_, _ = hasher.Write(lenBuf[:])
		_, _ = hasher.WriteString(seg)
	}

	u128 := hasher.Sum128()
	v, hi, lo = hasher.Sum64(), u128.Hi, u128.Lo

	// release hasher after use
	hasherPool.Put(hasher)

	return v, hi, lo
}
