package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// List returns the snapshots in dir, newest first. Files that do not follow
// the FileName pattern are ignored.
func List(dir string) ([]SnapshotInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to read snapshot directory: %w", err)
	}

	var out []SnapshotInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		label, ts, ok := parseFileName(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, SnapshotInfo{
			Path:      filepath.Join(dir, entry.Name()),
			Label:     label,
			Timestamp: ts,
			Size:      info.Size(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// Prune removes snapshots beyond what policy keeps at each age tier and
// returns the removed paths.
func Prune(dir string, policy RetentionPolicy, now time.Time) ([]string, error) {
	snaps, err := List(dir)
	if err != nil {
		return nil, err
	}

	var (
		toDelete                       []string
		hourly, daily, weekly, monthly []SnapshotInfo
	)
	for _, s := range snaps {
		age := now.Sub(s.Timestamp)
		switch {
		case age < 24*time.Hour:
			hourly = append(hourly, s)
		case age < 7*24*time.Hour:
			daily = append(daily, s)
		case age < 30*24*time.Hour:
			weekly = append(weekly, s)
		case age < 365*24*time.Hour:
			monthly = append(monthly, s)
		default:
			toDelete = append(toDelete, s.Path)
		}
	}

	excess := func(tier []SnapshotInfo, keep int) {
		if keep < 0 {
			keep = 0
		}
		for i := keep; i < len(tier); i++ {
			toDelete = append(toDelete, tier[i].Path)
		}
	}
	excess(hourly, policy.Hourly)
	excess(daily, policy.Daily)
	excess(weekly, policy.Weekly)
	excess(monthly, policy.Monthly)

	var (
		removed []string
		lastErr error
	)
	for _, p := range toDelete {
		if err := os.Remove(p); err != nil {
			lastErr = err
			continue
		}
		removed = append(removed, p)
	}
	if lastErr != nil {
		return removed, fmt.Errorf("backup: failed to delete some snapshots: %w", lastErr)
	}
	return removed, nil
}

// DiskUsage returns the total size in bytes of the snapshots in dir.
func DiskUsage(dir string) (int64, error) {
	snaps, err := List(dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, s := range snaps {
		total += s.Size
	}
	return total, nil
}
