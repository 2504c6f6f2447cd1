package utils

import (
	"fmt"
	"time"
)

var units = []string{"B", "KB", "MB", "GB", "TB", "PB"}

func FormatSize(size int64) string {
	showSize := float64(size)
	idx := 0
	for showSize >= 1024 && idx < len(units)-1 {
		showSize = showSize / 1024
		idx++
	}
	return fmt.Sprintf("%.2f %s", showSize, units[idx])
}

// RateFormat 从lastTime到现在的平均速率
func RateFormat(lastTime time.Time, size int64) string {
	s := time.Now().Sub(lastTime).Seconds()
	if s <= 0 {
		s = 1
	}
	showSize := float64(size) / s
	idx := 0
	for showSize >= 1024 && idx < len(units)-1 {
		showSize = showSize / 1024
		idx++
	}
	return fmt.Sprintf("%.2f %s/s", showSize, units[idx])
}
