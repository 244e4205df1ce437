// Package tier decides what an account may do on its current plan.
//
// These checks only shape the client experience. The ledger backend enforces
// the same transaction cap on its own and remains the authority.
package tier

import (
	"fmt"

	"thebox/internal/core"
)

const (
	Free Tier = "free"
	Pro  Tier = "pro"
)

// FreeLimit is the number of transactions a free account may hold.
const FreeLimit = 10

const (
	FeatureBackup    Feature = "backup"
	FeatureExportCSV Feature = "export_csv"
	FeatureRestore   Feature = "restore"
	FeatureReset     Feature = "reset"
	FeatureAssistant Feature = "assistant"
)

type (
	Tier    string
	Feature string
)

// CanMutate reports whether another transaction may be created.
func CanMutate(count int, t Tier) bool {
	return CanMutateWithin(count, t, FreeLimit)
}

// CanMutateWithin is CanMutate with a configurable free cap.
func CanMutateWithin(count int, t Tier, limit int) bool {
	if t == Pro {
		return true
	}
	return count < limit
}

// Resolve combines the server plan with the locally stored license key.
func Resolve(plan core.Plan, tierKey, proKey string) Tier {
	if plan.IsPro() {
		return Pro
	}
	if proKey != "" && tierKey == proKey {
		return Pro
	}
	return Free
}

// Require returns core.ErrFeatureLocked when f is not available on t.
func Require(f Feature, t Tier) error {
	if t == Pro {
		return nil
	}
	switch f {
	case FeatureBackup, FeatureExportCSV, FeatureRestore, FeatureReset, FeatureAssistant:
		return fmt.Errorf("%s: %w", f, core.ErrFeatureLocked)
	}
	return nil
}

// Remaining returns how many creates a free account has left, -1 for unlimited.
func Remaining(count int, t Tier, limit int) int {
	if t == Pro {
		return -1
	}
	if count >= limit {
		return 0
	}
	return limit - count
}
