// Package telemetry provides no-op telemetry hooks.
//
// A POS terminal must not transmit usage data off-device without explicit
// merchant opt-in, so every function here does nothing by default. The
// sync core still calls these hooks at the interesting points (deliveries,
// abandonments, connectivity flips) so a real backend can be swapped in
// behind the same signatures.
package telemetry

import "time"

// IsEnabled reports whether telemetry collection is active. Always false
// in this build; opt-in collection ships separately.
func IsEnabled() bool {
	return false
}

// RecordCount records a counter increment.
func RecordCount(name string, delta int, tags map[string]string) {
}

// RecordTiming records a duration measurement.
func RecordTiming(name string, duration time.Duration, tags map[string]string) {
}

// TrackError records a classified error occurrence.
func TrackError(err error, context map[string]interface{}) {
}
