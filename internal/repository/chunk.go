package repository

// DefaultChunkSize bounds IN-predicate lists so a single statement stays well
// under the backend's bound-parameter limit.
const DefaultChunkSize = 500

// Chunk partitions values into slices of at most size elements, preserving
// order. A non-positive size falls back to DefaultChunkSize.
func Chunk(values []string, size int) [][]string {
	if size <= 0 {
		size = DefaultChunkSize
	}

	chunks := make([][]string, 0, (len(values)+size-1)/size)
	for start := 0; start < len(values); start += size {
		end := start + size
		if end > len(values) {
			end = len(values)
		}
		chunks = append(chunks, values[start:end])
	}
	return chunks
}
