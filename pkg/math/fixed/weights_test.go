package fixed

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSizePremiumWeight(t *testing.T) {
	require := require.New(t)

	w, err := SizePremiumWeight(NewUint(1_000*BasePrecision), 0, 1000, MarginPrecision)
	require.NoError(err)
	require.Equal(uint32(1000), w, "zero imf leaves weight unchanged")

	small, err := SizePremiumWeight(NewUint(BasePrecision), 1000, 1000, MarginPrecision)
	require.NoError(err)
	require.Equal(uint32(1000), small, "small size keeps the base weight")

	// sqrt(1e13) = 3_162_277; * 1000 / 1e7 = 316; 800 + 316 = 1116
	large, err := SizePremiumWeight(NewUint(1_000*BasePrecision), 1000, 1000, MarginPrecision)
	require.NoError(err)
	require.Equal(uint32(1116), large)
}

func TestSizeDiscountAssetWeight(t *testing.T) {
	require := require.New(t)

	w, err := SizeDiscountAssetWeight(NewUint(BasePrecision), 0, 8000)
	require.NoError(err)
	require.Equal(uint32(8000), w)

	large, err := SizeDiscountAssetWeight(NewUint(1_000_000*BasePrecision), 1000, 8000)
	require.NoError(err)
	require.Less(large, uint32(8000))

	small, err := SizeDiscountAssetWeight(NewUint(1), 1000, 8000)
	require.NoError(err)
	require.Equal(uint32(8000), small)
}
