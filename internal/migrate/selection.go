package migrate

import "sort"

// pendingFiles returns the entries of onDisk absent from applied, sorted.
func pendingFiles(onDisk, applied []string) []string {
	seen := make(map[string]bool, len(applied))
	for _, f := range applied {
		seen[f] = true
	}
	pending := make([]string, 0, len(onDisk))
	for _, f := range onDisk {
		if !seen[f] {
			pending = append(pending, f)
		}
	}
	sort.Strings(pending)
	return pending
}

// rollbackFiles takes the last count entries of batch (oldest first) and
// returns them newest first. count <= 0 or count beyond the batch takes all.
func rollbackFiles(batch []string, count int) []string {
	if count > 0 && count < len(batch) {
		batch = batch[len(batch)-count:]
	}
	out := make([]string, len(batch))
	for i, f := range batch {
		out[len(batch)-1-i] = f
	}
	return out
}
