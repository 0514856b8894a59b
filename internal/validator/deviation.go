package validator

import (
	"math"

	"RTPSentinel/internal/model"
)

// Validate compares an actual RTP with its target. The result is valid while the
// absolute deviation stays within tolerance, and critical once it exceeds
// tolerance * criticalFactor.
func Validate(actual, target, tolerance, criticalFactor float64) model.ValidationResult {
	deviation := math.Abs(actual - target)
	threshold := tolerance * criticalFactor
	return model.ValidationResult{
		ActualRTP:  actual,
		TargetRTP:  target,
		Tolerance:  tolerance,
		Threshold:  threshold,
		Deviation:  deviation,
		IsValid:    deviation <= tolerance,
		IsCritical: deviation > threshold,
	}
}
