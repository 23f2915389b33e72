package main

import (
	"fmt"
	"time"
)

// Data size constants.
const (
	kilobyte = 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024
)

// Size and duration formats.
const (
	formatGB      = "%.1f GB"
	formatMB      = "%.1f MB"
	formatKB      = "%.1f KB"
	formatBytes   = "%d B"
	formatSeconds = "%.1fs"
	formatMinutes = "%dm %.1fs"
	formatHours   = "%dh %dm"
)

// formatFileSize formats a byte count such as "1.2 GB" or "500.5 MB".
func formatFileSize(bytes int64) string {
	switch {
	case bytes >= gigabyte:
		return fmt.Sprintf(formatGB, float64(bytes)/gigabyte)
	case bytes >= megabyte:
		return fmt.Sprintf(formatMB, float64(bytes)/megabyte)
	case bytes >= kilobyte:
		return fmt.Sprintf(formatKB, float64(bytes)/kilobyte)
	default:
		return fmt.Sprintf(formatBytes, bytes)
	}
}

// formatDuration formats a duration such as "1h 15m", "5m 30.5s" or "45.2s".
func formatDuration(duration time.Duration) string {
	seconds := duration.Seconds()

	if duration < time.Minute {
		return fmt.Sprintf(formatSeconds, seconds)
	}

	if duration < time.Hour {
		minutes := int(duration / time.Minute)

		return fmt.Sprintf(formatMinutes, minutes, seconds-float64(minutes*60))
	}

	hours := int(duration / time.Hour)
	minutes := int((duration % time.Hour) / time.Minute)

	return fmt.Sprintf(formatHours, hours, minutes)
}
