package fixed

// SizePremiumWeight raises a liability weight or margin ratio for large sizes.
// size is in BasePrecision, imfFactor in SpotIMFPrecision and weight in the
// given precision. A zero imfFactor disables the premium.
func SizePremiumWeight(size Uint, imfFactor, weight, precision uint32) (uint32, error) {
	if imfFactor == 0 {
		return weight, nil
	}
	sizeSqrt, err := sizeSqrt(size)
	if err != nil {
		return 0, err
	}
	numerator := uint64(weight) - uint64(weight)/5
	denom := NewUint(100_000 * SpotIMFPrecision / uint64(precision))
	premium, err := sizeSqrt.MulDiv(NewUint(uint64(imfFactor)), denom, RoundDown)
	if err != nil {
		return 0, err
	}
	premium, err = premium.Add(NewUint(numerator))
	if err != nil {
		return 0, err
	}
	out, err := MaxUint(NewUint(uint64(weight)), premium).Uint64()
	if err != nil || out > 1<<32-1 {
		return 0, ErrArithmeticOverflow
	}
	return uint32(out), nil
}

// SizeDiscountAssetWeight lowers an asset weight (SpotWeightPrecision) for
// large holdings. A zero imfFactor disables the discount.
func SizeDiscountAssetWeight(size Uint, imfFactor, weight uint32) (uint32, error) {
	if imfFactor == 0 {
		return weight, nil
	}
	sizeSqrt, err := sizeSqrt(size)
	if err != nil {
		return 0, err
	}
	growth, err := sizeSqrt.MulDiv(NewUint(uint64(imfFactor)), NewUint(100_000), RoundDown)
	if err != nil {
		return 0, err
	}
	denom, err := growth.Add(NewUint(SpotIMFPrecision))
	if err != nil {
		return 0, err
	}
	numerator := NewUint(SpotIMFPrecision + SpotIMFPrecision/10)
	discount, err := numerator.MulDiv(NewUint(SpotWeightPrecision), denom, RoundDown)
	if err != nil {
		return 0, err
	}
	out, err := MinUint(NewUint(uint64(weight)), discount).Uint64()
	if err != nil {
		return 0, err
	}
	return uint32(out), nil
}

func sizeSqrt(size Uint) (Uint, error) {
	scaled, err := size.Mul(NewUint(10))
	if err != nil {
		return Uint{}, err
	}
	scaled, err = scaled.Add(NewUint(1))
	if err != nil {
		return Uint{}, err
	}
	return Sqrt(scaled), nil
}
