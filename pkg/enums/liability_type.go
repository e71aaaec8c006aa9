package enums

import (
	"fmt"
	"time"
)

// LiabilityType is the receiver's binding answer to "what happens if the
// loaded asset turns out to be frozen or unusable".
type LiabilityType string

const (
	LiabilityFullPayment     LiabilityType = "full_payment"
	LiabilityPartial10       LiabilityType = "partial_10"
	LiabilityPartial25       LiabilityType = "partial_25"
	LiabilityPartial50       LiabilityType = "partial_50"
	LiabilityTimeBound24h    LiabilityType = "time_bound_24h"
	LiabilityTimeBound48h    LiabilityType = "time_bound_48h"
	LiabilityTimeBound72h    LiabilityType = "time_bound_72h"
	LiabilityTimeBound1Week  LiabilityType = "time_bound_1week"
	LiabilityTimeBound1Month LiabilityType = "time_bound_1month"
)

var validLiabilityTypes = []LiabilityType{
	LiabilityFullPayment,
	LiabilityPartial10,
	LiabilityPartial25,
	LiabilityPartial50,
	LiabilityTimeBound24h,
	LiabilityTimeBound48h,
	LiabilityTimeBound72h,
	LiabilityTimeBound1Week,
	LiabilityTimeBound1Month,
}

var liabilityWindows = map[LiabilityType]time.Duration{
	LiabilityTimeBound24h:    24 * time.Hour,
	LiabilityTimeBound48h:    48 * time.Hour,
	LiabilityTimeBound72h:    72 * time.Hour,
	LiabilityTimeBound1Week:  7 * 24 * time.Hour,
	LiabilityTimeBound1Month: 30 * 24 * time.Hour,
}

var liabilityPartialPercent = map[LiabilityType]int{
	LiabilityFullPayment: 100,
	LiabilityPartial10:   10,
	LiabilityPartial25:   25,
	LiabilityPartial50:   50,
}

func (l LiabilityType) String() string {
	return string(l)
}

func (l LiabilityType) IsValid() bool {
	for _, candidate := range validLiabilityTypes {
		if candidate == l {
			return true
		}
	}
	return false
}

// IsTimeBound reports whether the liability carries a deadline.
func (l LiabilityType) IsTimeBound() bool {
	_, ok := liabilityWindows[l]
	return ok
}

// Window returns the deadline window for time-bound liabilities.
func (l LiabilityType) Window() (time.Duration, bool) {
	d, ok := liabilityWindows[l]
	return d, ok
}

// PayablePercent returns the percentage of the deal owed when the asset is
// unusable. Time-bound options return false.
func (l LiabilityType) PayablePercent() (int, bool) {
	p, ok := liabilityPartialPercent[l]
	return p, ok
}

func ParseLiabilityType(value string) (LiabilityType, error) {
	for _, candidate := range validLiabilityTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid liability type %q", value)
}
