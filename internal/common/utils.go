package common

import (
	"strconv"
	"strings"
)

// Chunk splits items into consecutive groups of at most size elements.
// The last group may be shorter. A non-positive size yields a single group.
func Chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		return [][]T{items}
	}

	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// ParseIDs parses a comma-separated list of integers, skipping blank or
// malformed entries.
func ParseIDs(raw string) []int {
	var ids []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			continue
		}
		ids = append(ids, n)
	}
	return ids
}

// JoinIDs renders ids as a comma-separated list.
func JoinIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}
