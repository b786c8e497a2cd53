// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package hdkey

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

const (
	// HardenedKeyStart is the index at which a hardened key starts. Each
	// extended key has 2^31 normal child keys and 2^31 hardened child keys.
	HardenedKeyStart = uint32(0x80000000) // 2^31

	// pathRoot is the mandatory first segment of a textual path.
	pathRoot = "m"
)

// ChildNumber is one step of a derivation path: a 31-bit index and whether
// the step is hardened.
type ChildNumber struct {
	// Index is the child index without the hardened bit.
	Index uint32

	// Hardened marks a hardened derivation step.
	Hardened bool
}

// NewChildNumber creates a child number, rejecting indexes that do not fit in
// 31 bits.
func NewChildNumber(index uint32, hardened bool) (ChildNumber, error) {
	if index >= HardenedKeyStart {
		return ChildNumber{}, fmt.Errorf("%w: %d", ErrInvalidChildIndex,
			index)
	}

	return ChildNumber{Index: index, Hardened: hardened}, nil
}

// Normal returns the non-hardened child number for index. The hardened bit
// of index, if set, is ignored.
func Normal(index uint32) ChildNumber {
	return ChildNumber{Index: index &^ HardenedKeyStart}
}

// Hardened returns the hardened child number for index. The hardened bit of
// index, if set, is ignored.
func Hardened(index uint32) ChildNumber {
	return ChildNumber{Index: index &^ HardenedKeyStart, Hardened: true}
}

// ChildNumberFromUint32 splits a raw BIP-32 index into its 31-bit index and
// hardened flag.
func ChildNumberFromUint32(raw uint32) ChildNumber {
	return ChildNumber{
		Index:    raw &^ HardenedKeyStart,
		Hardened: raw&HardenedKeyStart != 0,
	}
}

// Uint32 returns the raw BIP-32 index, with the top bit set for hardened
// children.
func (c ChildNumber) Uint32() uint32 {
	if c.Hardened {
		return c.Index | HardenedKeyStart
	}

	return c.Index
}

// String returns the child number in path notation, e.g. 84' or 0.
func (c ChildNumber) String() string {
	if c.Hardened {
		return fmt.Sprintf("%d'", c.Index)
	}

	return strconv.FormatUint(uint64(c.Index), 10)
}

// Path is an ordered sequence of child numbers. A Path is immutable: every
// method returns a fresh copy of its children. The zero value is the empty
// path, which derives the root key itself.
type Path struct {
	children []ChildNumber
}

// NewPath creates a path from the given children.
func NewPath(children ...ChildNumber) Path {
	c := make([]ChildNumber, len(children))
	copy(c, children)

	return Path{children: c}
}

// PathFromUint32s creates a path from raw BIP-32 indexes, as found in PSBT
// derivation records.
func PathFromUint32s(raw []uint32) Path {
	c := make([]ChildNumber, len(raw))
	for i, r := range raw {
		c[i] = ChildNumberFromUint32(r)
	}

	return Path{children: c}
}

// ParsePath parses the textual form m/84'/0h/0. A hardened step is marked by
// a trailing ', h or H. Whitespace around each segment is ignored.
func ParsePath(s string) (Path, error) {
	segments := strings.Split(s, "/")
	if strings.TrimSpace(segments[0]) != pathRoot {
		return Path{}, fmt.Errorf("%w: path %q must start with %q",
			ErrInvalidPathSyntax, s, pathRoot)
	}

	children := make([]ChildNumber, 0, len(segments)-1)
	for i, seg := range segments[1:] {
		child, err := parseChild(strings.TrimSpace(seg))
		if err != nil {
			return Path{}, fmt.Errorf("%w: segment %d of %q: %v",
				ErrInvalidPathSyntax, i+1, s, err)
		}

		children = append(children, child)
	}

	return Path{children: children}, nil
}

// parseChild parses a single path segment.
func parseChild(seg string) (ChildNumber, error) {
	hardened := false
	switch {
	case strings.HasSuffix(seg, "'"),
		strings.HasSuffix(seg, "h"),
		strings.HasSuffix(seg, "H"):

		hardened = true
		seg = seg[:len(seg)-1]
	}

	// ParseUint would accept a leading '+', which is not valid notation.
	if seg == "" || seg[0] < '0' || seg[0] > '9' {
		return ChildNumber{}, fmt.Errorf("invalid index %q", seg)
	}

	index, err := strconv.ParseUint(seg, 10, 32)
	if err != nil {
		return ChildNumber{}, err
	}

	//nolint:gosec
	return NewChildNumber(uint32(index), hardened)
}

// Len returns the number of steps in the path.
func (p Path) Len() int {
	return len(p.children)
}

// Children returns a copy of the path's child numbers.
func (p Path) Children() []ChildNumber {
	c := make([]ChildNumber, len(p.children))
	copy(c, p.children)

	return c
}

// Child returns a new path with the given children appended.
func (p Path) Child(children ...ChildNumber) Path {
	c := make([]ChildNumber, 0, len(p.children)+len(children))
	c = append(c, p.children...)
	c = append(c, children...)

	return Path{children: c}
}

// Equal reports whether both paths have the same steps.
func (p Path) Equal(other Path) bool {
	return slices.Equal(p.children, other.children)
}

// Uint32s returns the raw BIP-32 indexes of the path.
func (p Path) Uint32s() []uint32 {
	raw := make([]uint32, len(p.children))
	for i, c := range p.children {
		raw[i] = c.Uint32()
	}

	return raw
}

// String returns the path in m/84'/0'/0' notation.
func (p Path) String() string {
	var b strings.Builder
	b.WriteString(pathRoot)
	for _, c := range p.children {
		b.WriteByte('/')
		b.WriteString(c.String())
	}

	return b.String()
}
