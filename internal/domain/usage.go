package domain

// Usage aggregates what a batch cost and what it saved.
type Usage struct {
	Images          int
	PixelsProcessed int64
	BytesIn         int64
	BytesOut        int64
	BytesSaved      int64
}

func SummarizeUsage(results []ProcessedResult) Usage {
	var u Usage
	for _, r := range results {
		u.Images++
		u.PixelsProcessed += int64(r.Width) * int64(r.Height)
		u.BytesIn += r.OriginalBytes
		u.BytesOut += r.CompressedBytes
	}
	u.BytesSaved = u.BytesIn - u.BytesOut
	if u.BytesSaved < 0 {
		u.BytesSaved = 0
	}
	return u
}
