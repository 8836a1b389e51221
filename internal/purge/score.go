package purge

import "time"

const day = 24 * time.Hour

// Thresholds are the score cutoffs a scan walks through, most disposable
// first. Reference points:
//
//	1e7  a 3-year-old 10MB file
//	1e6  a 1-year-old 3MB file
//	1e5  a 3-month-old 1MB file
//	1e4  a 2-week-old 700KB file
//	1e3  a 5-day-old 200KB file
//	0    any file
var Thresholds = []float64{1e7, 1e6, 1e5, 1e4, 1e3, 0}

// Score ranks how disposable a blob is: its size in KiB times its age in
// days. Blobs with a timestamp in the future score zero.
func Score(b Blob, now time.Time) float64 {
	age := now.Sub(b.Timestamp)
	if age < 0 || b.Size <= 0 {
		return 0
	}
	return float64(b.Size) / 1024 * (float64(age) / float64(day))
}

// Rung returns the index of the first threshold in Thresholds that score
// exceeds, or -1 when it exceeds none.
func Rung(score float64) int {
	for i, th := range Thresholds {
		if score > th {
			return i
		}
	}
	return -1
}
