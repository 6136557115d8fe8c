package content

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// Map maps a selector to the HTML fragment that belongs inside the matched
// element. Keys are unique; order carries no meaning.
type Map map[string]string

// ChangeSet is the inverse of Map: selector to the current inner HTML of the
// element that was bound to it. It is rebuilt from the document on every save.
type ChangeSet map[string]string

// Kind is the selector family, decided by the leading sigil.
type Kind int

const (
	KindUnknown Kind = iota
	KindIdentity
	KindClass
	KindAttribute
)

// ResolutionOrder is the fixed order in which selector kinds are resolved.
var ResolutionOrder = []Kind{KindIdentity, KindClass, KindAttribute}

func (k Kind) String() string {
	switch k {
	case KindIdentity:
		return "identity"
	case KindClass:
		return "class"
	case KindAttribute:
		return "attribute"
	default:
		return "unknown"
	}
}

// KindOf classifies a selector by its prefix.
func KindOf(selector string) Kind {
	switch {
	case strings.HasPrefix(selector, "#"):
		return KindIdentity
	case strings.HasPrefix(selector, "."):
		return KindClass
	case strings.HasPrefix(selector, "["):
		return KindAttribute
	default:
		return KindUnknown
	}
}

// SelectorsOf returns the keys of m with the given kind in ascending order.
func SelectorsOf[M ~map[string]string](m M, kind Kind) []string {
	var out []string
	for sel := range m {
		if KindOf(sel) == kind {
			out = append(out, sel)
		}
	}
	sort.Strings(out)
	return out
}

// Merge returns a new Map holding base overlaid by overlay.
func Merge(base, overlay Map) Map {
	out := make(Map, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// Hash returns the hex SHA-256 of the map serialised as JSON with sorted keys.
func Hash[M ~map[string]string](m M) string {
	// encoding/json sorts map keys.
	data, _ := json.Marshal(map[string]string(m))
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
