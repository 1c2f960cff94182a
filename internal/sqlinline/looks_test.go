package sqlinline

import (
	"regexp"
	"strings"
	"testing"
)

var markerPattern = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func TestQueriesCarryUniqueMarkers(t *testing.T) {
	queries := map[string]string{
		"QCreateLooksTable":            QCreateLooksTable,
		"QUpsertLook":                  QUpsertLook,
		"QSelectLookByID":              QSelectLookByID,
		"QListLooksByUser":             QListLooksByUser,
		"QListUnmirroredLooks":         QListUnmirroredLooks,
		"QSetLookStorageKey":           QSetLookStorageKey,
		"QIncrementLookMirrorAttempts": QIncrementLookMirrorAttempts,
	}
	seen := map[string]string{}
	for name, q := range queries {
		head, _, _ := strings.Cut(q, "\n")
		if !markerPattern.MatchString(head) {
			t.Fatalf("%s: first line %q is not a marker", name, head)
		}
		if other, dup := seen[head]; dup {
			t.Fatalf("%s reuses the marker of %s", name, other)
		}
		seen[head] = name
	}
}
