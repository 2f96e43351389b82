// Package risk defines the closed vocabulary of risk tags attached to
// authorization decisions and the default risk scorer.
package risk

// Tag labels a hazard class of an action.
type Tag string

const (
	TagDelete    Tag = "delete"
	TagOverwrite Tag = "overwrite"
	TagNetwork   Tag = "network"
	TagConnector Tag = "connector"
	TagBatch     Tag = "batch"
)

// AllTags lists every recognized tag in canonical order.
var AllTags = []Tag{TagDelete, TagOverwrite, TagNetwork, TagConnector, TagBatch}

// Valid reports whether t belongs to the closed tag set.
func (t Tag) Valid() bool {
	switch t {
	case TagDelete, TagOverwrite, TagNetwork, TagConnector, TagBatch:
		return true
	}
	return false
}

// Filter keeps only recognized tags. Unknown values are dropped silently,
// duplicates collapse to their first occurrence, and order is preserved.
// The result is never nil.
func Filter(raw []string) []Tag {
	out := make([]Tag, 0, len(raw))
	seen := make(map[Tag]struct{}, len(raw))
	for _, s := range raw {
		t := Tag(s)
		if !t.Valid() {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Strings converts tags back to their wire form. The result is never nil.
func Strings(tags []Tag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = string(t)
	}
	return out
}
