package dedup

import "strings"

// keySep cannot appear in attribution ids, push tokens or outcomes.
const keySep = "\x1f"

// Key joins parts into one dedup key. It returns "" when every part is
// empty so anonymous events are never collapsed together.
func Key(parts ...string) string {
	empty := true
	for _, p := range parts {
		if p != "" {
			empty = false
			break
		}
	}
	if empty {
		return ""
	}
	return strings.Join(parts, keySep)
}

// SeenRecently is IsDuplicate over Key(parts...).
func (m *Module) SeenRecently(parts ...string) bool {
	return m.IsDuplicate(Key(parts...))
}
