package kit

// Ptr returns &v. Handy for optional config values.
func Ptr[T any](v T) *T {
	return &v
}

// Clamp01 pins v into [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
