package ingest

// SampleFactor returns the largest power of two by which an image of
// actualWidth x actualHeight can be reduced while both dimensions stay at or
// above the requested size. A non-positive requested dimension means native
// resolution and yields 1.
func SampleFactor(actualWidth, actualHeight, reqWidth, reqHeight int) int {
	if reqWidth <= 0 || reqHeight <= 0 {
		return 1
	}

	factor := 1
	for (actualHeight/2)/factor >= reqHeight && (actualWidth/2)/factor >= reqWidth {
		factor *= 2
	}
	return factor
}
