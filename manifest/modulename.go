package manifest

import (
	"fmt"
	"strings"
)

// Module names are slash-separated segments. Each segment starts with
// a letter and continues with letters, digits, or underscores; a dot
// anywhere marks an asset file instead of a code module, so dots are
// never valid in a package's root segment.

// ToModuleSegment converts a dependency name to a module root segment.
// "my-app" -> "myApp", "JSON-codec" -> "jsonCodec", "models" -> "models"
func ToModuleSegment(s string) string {
	var words []string
	current := ""
	for i, r := range s {
		if r == '-' || r == '_' {
			if current != "" {
				words = append(words, current)
				current = ""
			}
			continue
		}
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := rune(s[i-1])
			if prev >= 'a' && prev <= 'z' {
				words = append(words, current)
				current = ""
			}
		}
		current += string(r)
	}
	if current != "" {
		words = append(words, current)
	}

	var result string
	for _, w := range words {
		if w == "" {
			continue
		}
		if result == "" {
			result = strings.ToLower(w[:1]) + strings.ToLower(w[1:])
		} else {
			result += strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
		}
	}
	return result
}

// reservedModuleRoots lists module roots owned by the runtime. A
// dependency cannot be mounted under any of these.
var reservedModuleRoots = map[string]bool{
	"core":     true,
	"builtins": true,
	"channel":  true,
	"main":     true,
}

// IsReservedModuleRoot reports whether name is a module root owned by
// the runtime. Only the root segment is checked: "thirdParty/core" is
// fine because the root is "thirdParty".
func IsReservedModuleRoot(name string) bool {
	root := name
	if idx := strings.Index(name, "/"); idx >= 0 {
		root = name[:idx]
	}
	return reservedModuleRoots[root]
}

// ValidateModuleSegment checks that a module root segment is usable as
// a `use` target.
func ValidateModuleSegment(s string) error {
	if s == "" {
		return fmt.Errorf("module segment is empty")
	}
	if strings.Contains(s, ".") {
		return fmt.Errorf("module segment %q contains a dot, which marks an asset path", s)
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9', r == '_':
			if i == 0 {
				return fmt.Errorf("module segment %q must start with a letter", s)
			}
		default:
			return fmt.Errorf("module segment %q contains invalid character %q", s, r)
		}
	}
	return nil
}
