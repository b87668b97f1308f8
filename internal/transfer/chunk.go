package transfer

// SplitChunks divides data into sequential chunks of at most maxPayload
// bytes each. Every chunk but the last is exactly maxPayload bytes; the
// last carries the remainder, or is a single empty chunk for a zero-length
// file (total_chunks is always >= 1).
func SplitChunks(data []byte, maxPayload int) [][]byte {
	if len(data) == 0 {
		return [][]byte{{}}
	}
	chunks := make([][]byte, 0, (len(data)+maxPayload-1)/maxPayload)
	for off := 0; off < len(data); off += maxPayload {
		end := off + maxPayload
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[off:end])
	}
	return chunks
}

// Reassemble concatenates chunks 0..total-1 from the received map, in
// order. Callers must only invoke this once every index is present.
func Reassemble(received map[int][]byte, total int) []byte {
	size := 0
	for i := 0; i < total; i++ {
		size += len(received[i])
	}
	out := make([]byte, 0, size)
	for i := 0; i < total; i++ {
		out = append(out, received[i]...)
	}
	return out
}
