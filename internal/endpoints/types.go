package endpoints

import (
	"sort"
	"strings"
	"time"

	"authhub/internal/apperr"
)

// Endpoint is a registered (service, path pattern, method) specification.
type Endpoint struct {
	ID                  string
	ServiceName         string
	Path                string
	Method              string
	Description         string
	IsPublic            bool
	RequiredPermissions []string
	RequiredRoles       []string
	Version             int
	CreatedAt           time.Time
	UpdatedAt           time.Time
	DeletedAt           *time.Time
}

// Spec is the exported view of an active endpoint consumed by remote callers.
type Spec struct {
	ID                  string   `json:"id"`
	ServiceName         string   `json:"serviceName"`
	Path                string   `json:"path"`
	Method              string   `json:"method"`
	IsPublic            bool     `json:"isPublic"`
	RequiredPermissions []string `json:"requiredPermissions"`
	RequiredRoles       []string `json:"requiredRoles"`
}

// Spec returns the exported view of e.
func (e Endpoint) Spec() Spec {
	return Spec{
		ID:                  e.ID,
		ServiceName:         e.ServiceName,
		Path:                e.Path,
		Method:              e.Method,
		IsPublic:            e.IsPublic,
		RequiredPermissions: nonNil(e.RequiredPermissions),
		RequiredRoles:       nonNil(e.RequiredRoles),
	}
}

// Registration describes an endpoint to create.
type Registration struct {
	ServiceName         string   `yaml:"service" json:"serviceName"`
	Path                string   `yaml:"path" json:"path"`
	Method              string   `yaml:"method" json:"method"`
	Description         string   `yaml:"description" json:"description"`
	IsPublic            bool     `yaml:"public" json:"isPublic"`
	RequiredPermissions []string `yaml:"permissions" json:"requiredPermissions"`
	RequiredRoles       []string `yaml:"roles" json:"requiredRoles"`
	Version             int      `yaml:"version" json:"version"`
}

// Patch is a merge patch; nil fields are left unchanged.
type Patch struct {
	Description         *string   `json:"description"`
	IsPublic            *bool     `json:"isPublic"`
	RequiredPermissions *[]string `json:"requiredPermissions"`
	RequiredRoles       *[]string `json:"requiredRoles"`
	Version             *int      `json:"version"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Description == nil && p.IsPublic == nil && p.RequiredPermissions == nil &&
		p.RequiredRoles == nil && p.Version == nil
}

func (r Registration) normalize() (Registration, error) {
	r.ServiceName = strings.TrimSpace(r.ServiceName)
	if r.ServiceName == "" {
		return Registration{}, apperr.New(apperr.InvalidInput, "service name is required")
	}
	method, err := normalizeMethod(r.Method)
	if err != nil {
		return Registration{}, err
	}
	r.Method = method
	path, err := normalizePattern(r.Path)
	if err != nil {
		return Registration{}, err
	}
	r.Path = path
	r.Description = strings.TrimSpace(r.Description)
	r.RequiredPermissions = normalizeSet(r.RequiredPermissions)
	r.RequiredRoles = normalizeSet(r.RequiredRoles)
	if r.Version <= 0 {
		r.Version = 1
	}
	return r, nil
}

var knownMethods = map[string]struct{}{
	"GET": {}, "HEAD": {}, "POST": {}, "PUT": {}, "PATCH": {}, "DELETE": {}, "OPTIONS": {},
}

func normalizeMethod(method string) (string, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if _, ok := knownMethods[method]; !ok {
		return "", apperr.Errorf(apperr.InvalidInput, "unsupported method %q", method)
	}
	return method, nil
}

func normalizePattern(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" || !strings.HasPrefix(path, "/") {
		return "", apperr.Errorf(apperr.InvalidInput, "path %q must start with /", path)
	}
	segs := splitPath(path)
	for _, seg := range segs {
		if seg == "" {
			return "", apperr.Errorf(apperr.InvalidInput, "path %q has an empty segment", path)
		}
		if strings.ContainsAny(seg, "{}") && !isPlaceholder(seg) {
			return "", apperr.Errorf(apperr.InvalidInput, "path %q has a malformed placeholder %q", path, seg)
		}
	}
	return "/" + strings.Join(segs, "/"), nil
}

func normalizeSet(values []string) []string {
	set := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
