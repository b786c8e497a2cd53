// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package hdkey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestParsePath checks the textual path notation parser.
func TestParsePath(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		path     string
		expected []ChildNumber
		str      string
		err      error
	}{{
		name:     "root only",
		path:     "m",
		expected: []ChildNumber{},
		str:      "m",
	}, {
		name: "bip84 account with h",
		path: "m/84h/0h/0h",
		expected: []ChildNumber{
			Hardened(84), Hardened(0), Hardened(0),
		},
		str: "m/84'/0'/0'",
	}, {
		name: "mixed markers and normal steps",
		path: "m/48'/1H/0h/2/0",
		expected: []ChildNumber{
			Hardened(48), Hardened(1), Hardened(0), Normal(2),
			Normal(0),
		},
		str: "m/48'/1'/0'/2/0",
	}, {
		name: "spaces around segments",
		path: "m / 84' / 0",
		expected: []ChildNumber{
			Hardened(84), Normal(0),
		},
		str: "m/84'/0",
	}, {
		name:     "largest index",
		path:     "m/2147483647'",
		expected: []ChildNumber{Hardened(2147483647)},
		str:      "m/2147483647'",
	}, {
		name: "missing root",
		path: "84'/0'",
		err:  ErrInvalidPathSyntax,
	}, {
		name: "empty string",
		path: "",
		err:  ErrInvalidPathSyntax,
	}, {
		name: "trailing slash",
		path: "m/0/",
		err:  ErrInvalidPathSyntax,
	}, {
		name: "index too large",
		path: "m/2147483648",
		err:  ErrInvalidPathSyntax,
	}, {
		name: "not a number",
		path: "m/abc",
		err:  ErrInvalidPathSyntax,
	}, {
		name: "signed number",
		path: "m/+1",
		err:  ErrInvalidPathSyntax,
	}, {
		name: "marker only",
		path: "m/'",
		err:  ErrInvalidPathSyntax,
	}, {
		name: "double marker",
		path: "m/1''",
		err:  ErrInvalidPathSyntax,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			path, err := ParsePath(tc.path)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.expected, path.Children())
			require.Equal(t, tc.str, path.String())
		})
	}
}

// TestPathImmutable checks that a path cannot be changed through the slices
// it hands out or through extension.
func TestPathImmutable(t *testing.T) {
	t.Parallel()

	children := []ChildNumber{Hardened(84), Hardened(0)}
	path := NewPath(children...)

	// Mutating the input slice does not affect the path.
	children[0] = Normal(1)
	require.Equal(t, Hardened(84), path.Children()[0])

	// Mutating the output slice does not affect the path.
	out := path.Children()
	out[1] = Normal(7)
	require.Equal(t, Hardened(0), path.Children()[1])

	// Extending returns a new path and leaves the original alone.
	extended := path.Child(Normal(0), Normal(5))
	require.Equal(t, 2, path.Len())
	require.Equal(t, 4, extended.Len())
	require.Equal(t, "m/84'/0'/0/5", extended.String())

	require.True(t, path.Equal(NewPath(Hardened(84), Hardened(0))))
	require.False(t, path.Equal(extended))
	require.True(t, Path{}.Equal(NewPath()))

	// The empty path is valid.
	require.Equal(t, 0, Path{}.Len())
	require.Equal(t, "m", Path{}.String())
}

// TestChildNumberRaw checks the conversion between child numbers and raw
// BIP-32 indexes.
func TestChildNumberRaw(t *testing.T) {
	t.Parallel()

	path, err := ParsePath("m/84'/0'/0'/1/5")
	require.NoError(t, err)

	raw := path.Uint32s()
	require.Equal(t, []uint32{
		HardenedKeyStart + 84, HardenedKeyStart, HardenedKeyStart, 1, 5,
	}, raw)
	require.Equal(t, path, PathFromUint32s(raw))

	_, err = NewChildNumber(HardenedKeyStart, false)
	require.ErrorIs(t, err, ErrInvalidChildIndex)

	c, err := NewChildNumber(3, true)
	require.NoError(t, err)
	require.Equal(t, HardenedKeyStart+3, c.Uint32())
	require.Equal(t, c, ChildNumberFromUint32(c.Uint32()))
}
