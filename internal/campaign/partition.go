package campaign

// Partition deals recipients round-robin over n shards: recipient i goes to shard i mod n.
func Partition(recipients []string, n int) [][]string {
	if n <= 0 {
		return nil
	}
	shards := make([][]string, n)
	for i, r := range recipients {
		shards[i%n] = append(shards[i%n], r)
	}
	return shards
}

// remaining returns recipients not in processed, preserving order
func remaining(recipients, processed []string) []string {
	done := make(map[string]struct{}, len(processed))
	for _, r := range processed {
		done[r] = struct{}{}
	}
	out := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if _, ok := done[r]; !ok {
			out = append(out, r)
		}
	}
	return out
}
