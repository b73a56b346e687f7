package inventory

import "strings"

// Device is the resolved identity of one target, as used for dispatch.
type Device struct {
	Name     string         `json:"name" yaml:"name"`
	Address  string         `json:"address" yaml:"address"`
	Platform string         `json:"platform" yaml:"platform"`
	Group    string         `json:"group" yaml:"group"`
	Role     string         `json:"role" yaml:"role"`
	Site     string         `json:"site" yaml:"site"`
	Vars     map[string]any `json:"vars,omitempty" yaml:"vars,omitempty"`
}

// Attribute keys usable in key:value scope filters.
const (
	AttrGroup    = "group"
	AttrRole     = "role"
	AttrSite     = "site"
	AttrPlatform = "platform"
)

// Attribute returns the value of a filterable attribute.
func (d Device) Attribute(key string) (string, bool) {
	switch strings.ToLower(key) {
	case AttrGroup:
		return d.Group, true
	case AttrRole:
		return d.Role, true
	case AttrSite:
		return d.Site, true
	case AttrPlatform:
		return d.Platform, true
	}
	return "", false
}

// IsAttribute reports whether key names a filterable attribute.
func IsAttribute(key string) bool {
	_, ok := Device{}.Attribute(key)
	return ok
}

func (d Device) String() string {
	return d.Name
}
