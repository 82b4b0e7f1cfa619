package cryptox

// ChunkCount is the number of chunks a file of size bytes is cut into. An
// empty file still takes one (empty) chunk so that its name travels.
func ChunkCount(size int64, chunk int) int64 {
	if size <= 0 {
		return 1
	}
	c := int64(chunk)
	return (size + c - 1) / c
}

// ChunkLengths lists the length of every chunk of a total-byte stream cut at
// chunk bytes. Only the last entry may be shorter. A zero total yields no
// chunks.
func ChunkLengths(total int64, chunk int) []int {
	if total <= 0 {
		return nil
	}

	n := ChunkCount(total, chunk)
	out := make([]int, 0, n)
	for remaining := total; remaining > 0; remaining -= int64(chunk) {
		out = append(out, int(min(int64(chunk), remaining)))
	}
	return out
}
