package options

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEncodeSingleLetterFlagsUseOneHyphen(t *testing.T) {
	got, err := Encode(New().Flag("C").Flag("p").Flag("g"))
	require.NoError(t, err)
	require.Equal(t, []string{"-C", "-p", "-g"}, got)
}

func TestEncodeMultiLetterFlagsUseTwoHyphens(t *testing.T) {
	got, err := Encode(New().Flag("copies").Flag("patch"))
	require.NoError(t, err)
	require.Equal(t, []string{"--copies", "--patch"}, got)
}

func TestEncodeConvertsUnderscoresToHyphens(t *testing.T) {
	got, err := Encode(New().Flag("pull_update").String("remote_cmd", "ssh -C"))
	require.NoError(t, err)
	require.Equal(t, []string{"--pull-update", "--remote-cmd=ssh -C"}, got)
}

func TestEncodeDropsNegatedSingleLetterFlags(t *testing.T) {
	got, err := Encode(New().Negate("g").With("p", Bool(false)))
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestEncodeNegatesMultiLetterFlags(t *testing.T) {
	got, err := Encode(New().Negate("graph").With("patch", Bool(false)))
	require.NoError(t, err)
	require.Equal(t, []string{"--no-graph", "--no-patch"}, got)
}

func TestEncodeStringValueForSingleLetterIsTwoTokens(t *testing.T) {
	got, err := Encode(New().String("P", "165"))
	require.NoError(t, err)
	require.Equal(t, []string{"-P", "165"}, got)
}

func TestEncodeStringValueForMultiLetterUsesEquals(t *testing.T) {
	got, err := Encode(New().String("prune", "165"))
	require.NoError(t, err)
	require.Equal(t, []string{"--prune=165"}, got)
}

func TestEncodeRejectsZeroValue(t *testing.T) {
	_, err := Encode(New(Option{Name: "rev"}))
	require.ErrorIs(t, err, ErrInvalidOption)

	var invalid *InvalidOptionError
	require.True(t, errors.As(err, &invalid))
	require.Equal(t, "rev", invalid.Name)
	require.Contains(t, err.Error(), `"rev"`)
}

func TestEncodeRejectsEmptyName(t *testing.T) {
	_, err := Encode(New(Option{Name: "", Value: Flag()}))
	require.ErrorIs(t, err, ErrInvalidOption)
}

func TestSetWithReplacesInPlace(t *testing.T) {
	s := New().Flag("verbose").String("rev", "1").Flag("quiet")
	s = s.String("rev", "tip")

	require.Equal(t, 3, s.Len())
	got, err := Encode(s)
	require.NoError(t, err)
	require.Equal(t, []string{"--verbose", "--rev=tip", "--quiet"}, got)
}

func TestSetIsImmutable(t *testing.T) {
	base := New().Flag("verbose")
	_ = base.Flag("quiet")

	require.Equal(t, 1, base.Len())
	_, ok := base.Get("quiet")
	require.False(t, ok)
}

func TestFromMapMapsDynamicValues(t *testing.T) {
	s, err := FromMap(map[string]any{
		"rev":    "tip",
		"graph":  false,
		"patch":  nil,
		"stat":   true,
		"l":      "3",
		"g":      false,
		"copies": true,
	})
	require.NoError(t, err)

	got, err := Encode(s)
	require.NoError(t, err)
	require.Equal(t, []string{"--copies", "--no-graph", "-l", "3", "--no-patch", "--rev=tip", "--stat"}, got)
}

func TestFromMapRejectsUnsupportedTypes(t *testing.T) {
	_, err := FromMap(map[string]any{"limit": float64(3)})
	require.ErrorIs(t, err, ErrInvalidOption)
	require.Contains(t, err.Error(), "limit")
}

func TestPropertyFlagsProduceOneTokenPerEntry(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		names := rapid.SliceOfDistinct(
			rapid.StringMatching(`[a-z][a-z_]{0,8}`),
			func(s string) string { return s },
		).Draw(rt, "names")

		var s Set
		for _, name := range names {
			s = s.Flag(name)
		}

		got, err := Encode(s)
		require.NoError(rt, err)
		require.Len(rt, got, len(names))

		for i, name := range names {
			if len(name) == 1 {
				require.Equal(rt, "-"+name, got[i])
				continue
			}
			require.Equal(rt, "--"+strings.ReplaceAll(name, "_", "-"), got[i])
		}
	})
}

func TestPropertyEncodingIsDeterministic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		m := rapid.MapOf(
			rapid.StringMatching(`[a-zA-Z][a-z_]{0,6}`),
			rapid.OneOf(
				rapid.Just[any](true),
				rapid.Just[any](false),
				rapid.Just[any](nil),
				rapid.Map(rapid.String(), func(s string) any { return s }),
			),
		).Draw(rt, "options")

		first, err := FromMap(m)
		require.NoError(rt, err)
		second, err := FromMap(m)
		require.NoError(rt, err)

		a, err := Encode(first)
		require.NoError(rt, err)
		b, err := Encode(second)
		require.NoError(rt, err)
		require.Equal(rt, a, b)
	})
}
