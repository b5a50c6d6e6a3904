package util

// Batch splits elements into consecutive chunks of at most batchSize elements.
// The chunks share memory with elements.
func Batch[T any](elements []T, batchSize int) [][]T {
	if batchSize <= 0 {
		batchSize = len(elements)
	}
	batches := make([][]T, 0, (len(elements)+batchSize-1)/max(batchSize, 1))
	for start := 0; start < len(elements); start += batchSize {
		end := start + batchSize
		if end > len(elements) {
			end = len(elements)
		}
		batches = append(batches, elements[start:end])
	}
	return batches
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
