package enums

import "fmt"

// LoaderAdStatus tracks whether an ad still holds its commitment.
type LoaderAdStatus string

const (
	LoaderAdStatusActive    LoaderAdStatus = "active"
	LoaderAdStatusConsumed  LoaderAdStatus = "consumed"
	LoaderAdStatusCancelled LoaderAdStatus = "cancelled"
)

var validLoaderAdStatuses = []LoaderAdStatus{
	LoaderAdStatusActive,
	LoaderAdStatusConsumed,
	LoaderAdStatusCancelled,
}

func (s LoaderAdStatus) String() string {
	return string(s)
}

func (s LoaderAdStatus) IsValid() bool {
	for _, candidate := range validLoaderAdStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseLoaderAdStatus(value string) (LoaderAdStatus, error) {
	for _, candidate := range validLoaderAdStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid loader ad status %q", value)
}
