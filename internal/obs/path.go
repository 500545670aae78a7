package obs

import "strings"

// CanonicalPath collapses resource identifiers so metric labels keep a bounded
// cardinality regardless of how many tenants, users or roles exist.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) < 3 || segments[0] != "v1" {
		return path
	}
	switch segments[1] {
	case "tenants", "users", "roles":
	default:
		return path
	}
	segments[2] = ":id"
	if len(segments) == 5 && segments[1] == "roles" && segments[3] == "permissions" {
		segments[4] = ":permission_id"
	}
	return "/" + strings.Join(segments, "/")
}
