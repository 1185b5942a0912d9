// Package backup manages point-in-time snapshots of the index database:
// naming, integrity verification, restore and tiered retention.
package backup

import "time"

// RetentionPolicy defines how many snapshots to keep at each tier.
// Snapshots are categorized by age:
// - Hourly: less than 24 hours old
// - Daily: between 1-7 days old
// - Weekly: between 7-30 days old
// - Monthly: between 30-365 days old
// Snapshots older than a year are always removed.
type RetentionPolicy struct {
	Hourly  int `koanf:"hourly"`
	Daily   int `koanf:"daily"`
	Weekly  int `koanf:"weekly"`
	Monthly int `koanf:"monthly"`
}

// DefaultRetention keeps a day of hourly snapshots, a week of dailies, a
// month of weeklies and a year of monthlies.
func DefaultRetention() RetentionPolicy {
	return RetentionPolicy{Hourly: 24, Daily: 7, Weekly: 4, Monthly: 12}
}

// SnapshotInfo describes one snapshot file.
type SnapshotInfo struct {
	Path      string
	Label     string
	Timestamp time.Time
	Size      int64
}
