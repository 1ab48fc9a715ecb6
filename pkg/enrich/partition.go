package enrich

// Chunk is a contiguous slice of the key sequence, processed by one worker.
type Chunk struct {
	Index int
	Keys  []string
}

// Partition splits keys into at most targetChunks contiguous chunks of
// ceil(len(keys)/targetChunks) keys each; only the last chunk may be shorter.
// Concatenating the chunks in index order yields keys exactly. No keys yield
// no chunks, and targetChunks < 1 is treated as 1.
func Partition(keys []string, targetChunks int) []Chunk {
	if len(keys) == 0 {
		return nil
	}
	if targetChunks < 1 {
		targetChunks = 1
	}

	size := (len(keys) + targetChunks - 1) / targetChunks
	if size < 1 {
		size = 1
	}

	chunks := make([]Chunk, 0, (len(keys)+size-1)/size)
	for start := 0; start < len(keys); start += size {
		end := min(start+size, len(keys))
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Keys:  keys[start:end:end],
		})
	}
	return chunks
}
