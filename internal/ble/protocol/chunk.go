package protocol

// ChunkBytes splits data into consecutive chunks of at most size bytes.
// The chunks share data's backing array. Returns nil for empty data or a
// non-positive size.
func ChunkBytes(data []byte, size int) [][]byte {
	if len(data) == 0 || size <= 0 {
		return nil
	}
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for len(data) > 0 {
		n := min(size, len(data))
		chunks = append(chunks, data[:n:n])
		data = data[n:]
	}
	return chunks
}

// PadWords returns chunk extended with fill bytes to a multiple of 4.
// The input is copied when padding is needed.
func PadWords(chunk []byte, fill byte) []byte {
	rem := len(chunk) % 4
	if rem == 0 {
		return chunk
	}
	out := make([]byte, len(chunk), len(chunk)+4-rem)
	copy(out, chunk)
	for i := rem; i < 4; i++ {
		out = append(out, fill)
	}
	return out
}
