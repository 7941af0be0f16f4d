package models

import "time"

// EntitlementStatus is the user's subscription tier.
type EntitlementStatus string

const (
	EntitlementBasic EntitlementStatus = "basic"
	EntitlementTrial EntitlementStatus = "trial"
	EntitlementPro   EntitlementStatus = "pro"
)

// Entitlement gates premium features. The derived entitled state is always
// recomputed from Status and ExpiryDate, never cached.
type Entitlement struct {
	Status     EntitlementStatus `json:"status"`
	ExpiryDate *time.Time        `json:"expiryDate,omitempty"`
}

// IsEntitled reports whether premium features are available at now: the
// status must be trial or pro and the expiry must be set and in the future.
func (e Entitlement) IsEntitled(now time.Time) bool {
	if e.Status != EntitlementTrial && e.Status != EntitlementPro {
		return false
	}
	if e.ExpiryDate == nil {
		return false
	}
	return e.ExpiryDate.After(now)
}

// NewTrial returns a time-boxed trial entitlement starting at now.
func NewTrial(now time.Time, length time.Duration) Entitlement {
	expiry := now.Add(length)
	return Entitlement{Status: EntitlementTrial, ExpiryDate: &expiry}
}

// UserSettings is the per-user settings document mirrored by the
// entitlement subscription. Fields other than Entitlement are owned by the
// UI layer and must survive entitlement merges untouched.
type UserSettings struct {
	Entitlement *Entitlement `json:"entitlement,omitempty"`
	Language    string       `json:"language,omitempty"`
}
