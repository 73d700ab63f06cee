package cascade

import (
	"sort"
	"strings"
)

// foreignKeySuffix marks a field name as a foreign key. The match is
// case-sensitive: "ownerId" qualifies, "ownerID" and "ownerid" do not.
const foreignKeySuffix = "Id"

// IsForeignKey reports whether name looks like a foreign key: at least three
// characters long and ending in "Id". It is a naming heuristic only and does
// not consult relation metadata.
func IsForeignKey(name string) bool {
	return len(name) >= len(foreignKeySuffix)+1 && strings.HasSuffix(name, foreignKeySuffix)
}

// ForeignKeys returns the names of the fields that look like foreign keys,
// sorted for stable projections.
func ForeignKeys(fields map[string]Field) []string {
	var keys []string
	for name := range fields {
		if IsForeignKey(name) {
			keys = append(keys, name)
		}
	}
	sort.Strings(keys)
	return keys
}

// projection builds the retrieval field list: the primary key, every
// foreign-key-looking field and the parent side of every relation.
func projection(m *Model) []string {
	seen := make(map[string]struct{})
	var cols []string
	add := func(col string) {
		if col == "" {
			return
		}
		if _, ok := seen[col]; ok {
			return
		}
		seen[col] = struct{}{}
		cols = append(cols, col)
	}

	add(m.PrimaryKeyColumn())
	for _, name := range ForeignKeys(m.Fields) {
		add(m.Fields[name].ColumnName())
	}

	names := make([]string, 0, len(m.Relations))
	for name := range m.Relations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		add(m.KeyFrom(m.Relations[name]))
	}
	return cols
}
