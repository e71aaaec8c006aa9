package models

import "time"

// ScannerCheckpoint remembers the last block every address was scanned through.
type ScannerCheckpoint struct {
	Name                string    `gorm:"column:name;type:text;primaryKey"`
	LastSuccessfulBlock uint64    `gorm:"column:last_successful_block;not null"`
	UpdatedAt           time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
