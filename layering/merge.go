// Package layering composes ordered key/value layers, strongest first, while
// recording which layer supplied each key.
package layering

// Entry is one key/value pair of a layer.
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Layer is a named set of entries. Remove lists keys the layer deletes from
// every weaker layer.
type Layer struct {
	Name    string   `json:"name"`
	Entries []Entry  `json:"entries"`
	Remove  []string `json:"remove,omitempty"`
}

// Result is the outcome of Merge.
type Result struct {
	Entries []Entry
	// Sources maps each key to the name of the layer that supplied its value.
	Sources map[string]string
}

// Merge composes layers ordered from strongest to weakest. A key keeps the
// position it has in the weakest layer defining it so that stronger layers
// override values without reordering the result; keys first introduced by a
// stronger layer are appended in the order that layer lists them.
func Merge(layers ...Layer) Result {
	result := Result{Sources: map[string]string{}}
	if len(layers) == 0 {
		return result
	}

	index := make(map[string]int)
	var entries []Entry
	removed := make(map[int]bool)

	for i := len(layers) - 1; i >= 0; i-- {
		layer := layers[i]
		for _, key := range layer.Remove {
			pos, ok := index[key]
			if !ok {
				continue
			}
			removed[pos] = true
			delete(index, key)
			delete(result.Sources, key)
		}
		for _, entry := range layer.Entries {
			if pos, ok := index[entry.Key]; ok {
				entries[pos].Value = entry.Value
				result.Sources[entry.Key] = layer.Name
				continue
			}
			index[entry.Key] = len(entries)
			entries = append(entries, entry)
			result.Sources[entry.Key] = layer.Name
		}
	}

	result.Entries = make([]Entry, 0, len(index))
	for pos, entry := range entries {
		if removed[pos] {
			continue
		}
		result.Entries = append(result.Entries, entry)
	}
	return result
}
