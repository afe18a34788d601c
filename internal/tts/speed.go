package tts

import "errors"

// Raw control range and the effective engine range it maps onto.
const (
	MinRawSpeed       = 0.5
	MaxRawSpeed       = 2.0
	MinEffectiveSpeed = 0.75
	MaxEffectiveSpeed = 1.5
)

// ErrSpeedOutOfRange is returned when an effective speed is outside
// [MinEffectiveSpeed, MaxEffectiveSpeed].
var ErrSpeedOutOfRange = errors.New("speed out of range")

// RemapSpeed maps the raw speed control value in [0.5, 2.0] linearly onto
// the engine factor in [0.75, 1.5]. Values outside the raw range are clamped.
//
// Speed is always applied by the engine at generation time. Playback never
// rescales the output rate.
func RemapSpeed(raw float64) float64 {
	switch {
	case raw <= MinRawSpeed:
		return MinEffectiveSpeed
	case raw >= MaxRawSpeed:
		return MaxEffectiveSpeed
	}
	return MinEffectiveSpeed + (raw-MinRawSpeed)*(MaxEffectiveSpeed-MinEffectiveSpeed)/(MaxRawSpeed-MinRawSpeed)
}
