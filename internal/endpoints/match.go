package endpoints

import "strings"

// splitPath drops a query string and surrounding slashes and splits on "/".
// The root path yields no segments.
func splitPath(path string) []string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func isPlaceholder(seg string) bool {
	return len(seg) > 2 && seg[0] == '{' && seg[len(seg)-1] == '}' &&
		!strings.ContainsAny(seg[1:len(seg)-1], "{}/")
}

// specificity ranks a matching pattern; lower sorts first.
type specificity struct {
	wildcards     int
	literalPrefix int
	id            string
}

func (a specificity) moreSpecificThan(b specificity) bool {
	if a.wildcards != b.wildcards {
		return a.wildcards < b.wildcards
	}
	if a.literalPrefix != b.literalPrefix {
		return a.literalPrefix > b.literalPrefix
	}
	return a.id < b.id
}

// matchPattern reports whether pattern matches the request segments and, if so,
// how specific the match is.
func matchPattern(pattern string, request []string) (specificity, bool) {
	segs := splitPath(pattern)
	if len(segs) != len(request) {
		return specificity{}, false
	}
	var spec specificity
	prefixOpen := true
	for i, seg := range segs {
		if isPlaceholder(seg) {
			spec.wildcards++
			prefixOpen = false
			continue
		}
		if seg != request[i] {
			return specificity{}, false
		}
		if prefixOpen {
			spec.literalPrefix++
		}
	}
	return spec, true
}

// Match picks the most specific candidate whose pattern matches requestPath:
// fewest placeholders, then the longest run of leading literal segments, then
// the lowest id. Candidates are assumed to share service and method. A path
// with an empty segment, such as "/a//b", matches nothing.
func Match(candidates []Endpoint, requestPath string) (Endpoint, bool) {
	request := splitPath(requestPath)
	for _, seg := range request {
		if seg == "" {
			return Endpoint{}, false
		}
	}
	var (
		best     Endpoint
		bestSpec specificity
		found    bool
	)
	for _, c := range candidates {
		spec, ok := matchPattern(c.Path, request)
		if !ok {
			continue
		}
		spec.id = c.ID
		if !found || spec.moreSpecificThan(bestSpec) {
			best, bestSpec, found = c, spec, true
		}
	}
	return best, found
}
