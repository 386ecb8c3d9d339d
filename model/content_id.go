package model

import "strings"

// ContentKind discriminates content identifiers.
type ContentKind int

const (
	// KindFile is a note or attachment path inside the vault.
	KindFile ContentKind = iota
	// KindURL is an http(s) URL.
	KindURL
	// KindSynthetic is a generated id, e.g. a canvas text node.
	KindSynthetic
)

// String returns the kind name.
func (k ContentKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindURL:
		return "url"
	case KindSynthetic:
		return "synthetic"
	default:
		return "unknown"
	}
}

// ContentID uniquely identifies a piece of context with its kind.
// String() yields the plain key used in additional_context maps, so stored
// payloads keep their existing shape.
type ContentID struct {
	Kind  ContentKind
	Value string
}

// FileID creates a ContentID for a vault path.
func FileID(path string) ContentID {
	return ContentID{Kind: KindFile, Value: path}
}

// URLID creates a ContentID for a URL.
func URLID(url string) ContentID {
	return ContentID{Kind: KindURL, Value: url}
}

// SyntheticID creates a ContentID for a generated identifier.
func SyntheticID(id string) ContentID {
	return ContentID{Kind: KindSynthetic, Value: id}
}

// String returns the serialised key.
func (id ContentID) String() string {
	return id.Value
}

// ParseContentID classifies a serialised key. Keys with an http(s) scheme
// are URLs, keys with a file extension are files, anything else is synthetic.
func ParseContentID(key string) ContentID {
	switch {
	case strings.HasPrefix(key, "http://"), strings.HasPrefix(key, "https://"):
		return URLID(key)
	case hasExtension(key):
		return FileID(key)
	default:
		return SyntheticID(key)
	}
}

func hasExtension(key string) bool {
	base := key
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	dot := strings.LastIndex(base, ".")
	return dot > 0 && dot < len(base)-1
}
