package cache

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKeysValidation(t *testing.T) {
	_, err := NewKeys("", 1)
	assert.Error(t, err)
	_, err = NewKeys("app", 0)
	assert.Error(t, err)
	k, err := NewKeys("app", 3)
	assert.NoError(t, err)
	assert.Equal(t, "app", k.Prefix())
	assert.Equal(t, 3, k.Version())
}

func TestKeysCompose(t *testing.T) {
	k, err := NewKeys("app", 1)
	require.NoError(t, err)
	assert.Equal(t, "app_1_user_42", k.Compose("user", "42"))
	assert.Equal(t, k.Compose("user", "42"), k.Compose("user", "42"))
}

func TestKeysEscaping(t *testing.T) {
	k, err := NewKeys("app", 1)
	require.NoError(t, err)

	assert.Equal(t, "app_1_a%5Fb_c", k.Compose("a_b", "c"))
	assert.NotEqual(t, k.Compose("a_b", "c"), k.Compose("a", "b_c"))
	assert.Equal(t, "app_1_search_john%20doe", k.Compose("search", "john doe"))
	assert.Equal(t, "app_1_search_%25", k.Compose("search", "%"))
	assert.NotEqual(t, k.Compose("search", "%5F"), k.Compose("search", "_"))
	assert.Equal(t, "app_1_search_caf%C3%A9", k.Compose("search", "café"))
	assert.Equal(t, "app_1_c_%0A", k.Compose("c", "\n"))

	escaped, err := NewKeys("my_app", 1)
	require.NoError(t, err)
	assert.Equal(t, "my%5Fapp_1_user_1", escaped.Compose("user", "1"))
}

func TestKeysLongIDsAreHashed(t *testing.T) {
	k, err := NewKeys("app", 1)
	require.NoError(t, err)

	long := strings.Repeat("x", 300)
	key := k.Compose("search", long)
	assert.LessOrEqual(t, len(key), MaxKeyLength)
	assert.True(t, strings.HasPrefix(key, "app_1_search_~"))
	assert.Equal(t, key, k.Compose("search", long))
	assert.NotEqual(t, key, k.Compose("search", long+"y"))

	// A literal id shaped like a hash never collides with a hashed one.
	literal := k.Compose("search", key[len("app_1_search_"):])
	assert.NotEqual(t, key, literal)
	assert.Contains(t, literal, "%7E")
}

func TestKeysSchemaVersionBump(t *testing.T) {
	k, err := NewKeys("app", 1)
	require.NoError(t, err)
	bumped, err := k.WithSchemaVersion(2)
	require.NoError(t, err)
	assert.NotEqual(t, k.Compose("user", "7"), bumped.Compose("user", "7"))
	assert.Equal(t, "app_2_user_7", bumped.Compose("user", "7"))

	for _, v := range []int{0, -1} {
		_, err := k.WithSchemaVersion(v)
		assert.Error(t, err, v)
	}
	assert.Equal(t, 1, k.Version(), "a rejected bump leaves the composer alone")
}

func TestKeysPrefixBound(t *testing.T) {
	_, err := NewKeys(strings.Repeat("p", MaxPrefixLength), 1)
	assert.NoError(t, err)
	_, err = NewKeys(strings.Repeat("p", MaxPrefixLength+1), 1)
	assert.Error(t, err)
	// The bound applies to the escaped form.
	_, err = NewKeys(strings.Repeat("_", MaxPrefixLength/2), 1)
	assert.Error(t, err)
}

func TestKeysNeverExceedMaxLength(t *testing.T) {
	k, err := NewKeys(strings.Repeat("p", MaxPrefixLength), math.MaxInt64)
	require.NoError(t, err)
	long := strings.Repeat("_", 300)

	for _, component := range []string{"user", strings.Repeat("c", MaxComponentLength), long} {
		for _, id := range []string{"7", long} {
			key := k.Compose(component, id)
			assert.LessOrEqual(t, len(key), MaxKeyLength, "%d byte component, %d byte id", len(component), len(id))
		}
	}
	// Oversized components stay distinct from each other and per id.
	assert.NotEqual(t, k.Compose(long, "1"), k.Compose(long, "2"))
	assert.NotEqual(t, k.Compose(long+"x", "1"), k.Compose(long, "x1"))
}

func TestDefinitionRejectsLongComponent(t *testing.T) {
	layer := newTestLayer(t, newTestMemory(t))
	_, err := NewSingle[int64, string](layer, Definition{Component: strings.Repeat("c", MaxComponentLength+1), Tier: TierSmall})
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}

type userID int64
type handle string

func TestFormatID(t *testing.T) {
	assert.Equal(t, "42", FormatID(42))
	assert.Equal(t, "-5", FormatID(userID(-5)))
	assert.Equal(t, "18446744073709551615", FormatID(uint64(18446744073709551615)))
	assert.Equal(t, "bob", FormatID(handle("bob")))
	assert.Equal(t, "7", FormatID(int32(7)))
}

func TestTiers(t *testing.T) {
	tiers := DefaultTiers()
	assert.Less(t, tiers.Duration(TierVerySmall), tiers.Duration(TierSmall))
	assert.Less(t, tiers.Duration(TierSmall), tiers.Duration(TierMedium))
	assert.Less(t, tiers.Duration(TierMedium), tiers.Duration(TierLarge))

	merged := tiers.Merge(Tiers{TierSmall: 42, TierLarge: 0})
	assert.EqualValues(t, 42, merged.Duration(TierSmall))
	assert.Equal(t, tiers.Duration(TierLarge), merged.Duration(TierLarge))
	assert.Equal(t, DefaultTiers()[TierSmall], tiers.Duration(TierSmall), "merge must not mutate the receiver")

	tier, err := ParseTier("Very-Small")
	assert.NoError(t, err)
	assert.Equal(t, TierVerySmall, tier)
	_, err = ParseTier("huge")
	assert.Error(t, err)
	assert.Equal(t, "medium", TierMedium.String())
}
