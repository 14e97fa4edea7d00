package shared

import (
	"math"
	"strconv"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// TenantID identifies one isolated school instance.
type TenantID string

// IsValid checks if the tenant ID is non-empty.
func (t TenantID) IsValid() bool {
	return strings.TrimSpace(string(t)) != ""
}

// String returns the string representation.
func (t TenantID) String() string {
	return string(t)
}

// NewTenantID creates a new TenantID with validation.
func NewTenantID(id string) (TenantID, error) {
	tid := TenantID(strings.TrimSpace(id))
	if !tid.IsValid() {
		return "", NewDomainError("shared", "NewTenantID", ErrInvalidID, "tenant ID is required")
	}
	return tid, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Numeric helpers
// ═══════════════════════════════════════════════════════════════════════════

// Round2 rounds half-up to two decimal places.
func Round2(x float64) float64 {
	return math.Floor(x*100+0.5) / 100
}

// IsFinite reports whether x is neither NaN nor infinite.
func IsFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// FormatNumber renders a score the way it appears in user-facing messages:
// shortest representation, no trailing zeros.
func FormatNumber(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}

// Percent returns part/whole*100, or 0 when whole is not positive.
func Percent(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return part / whole * 100
}
