package inventory

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cast"
)

var ErrDuplicateDevice = errors.New("device declared twice")
var ErrEmptyName = errors.New("device without name")

// DuplicateDeviceError is returned when two declarations share a name but not their attributes.
type DuplicateDeviceError struct {
	Name  string
	diffs []diff
}

func (e *DuplicateDeviceError) Error() string {
	return fmt.Sprintf("device %q declared twice with different attributes: %+v", e.Name, e.diffs)
}

func (e *DuplicateDeviceError) Unwrap() error {
	return ErrDuplicateDevice
}

// Inventory is a read-only, ordered snapshot of the known devices.
//
// It is owned by the caller: netbatch never mutates it, a reload produces a new snapshot.
type Inventory struct {
	devices []Device
	index   map[string]int
}

// New builds an inventory keeping the declaration order.
//
// Names are unique: an exact duplicate fails with ErrDuplicateDevice, a conflicting one with a
// DuplicateDeviceError listing the differing attributes.
func New(devices ...Device) (*Inventory, error) {
	inv := &Inventory{
		devices: make([]Device, 0, len(devices)),
		index:   make(map[string]int, len(devices)),
	}

	for _, d := range devices {
		d.Name = strings.TrimSpace(d.Name)
		if d.Name == "" {
			return nil, fmt.Errorf("%w (address %q)", ErrEmptyName, d.Address)
		}

		if i, ok := inv.index[d.Name]; ok {
			diffs := Compare(inv.devices[i], d)
			if len(diffs) == 0 {
				return nil, fmt.Errorf("%w: %q", ErrDuplicateDevice, d.Name)
			}
			return nil, &DuplicateDeviceError{Name: d.Name, diffs: diffs}
		}

		inv.index[d.Name] = len(inv.devices)
		inv.devices = append(inv.devices, d)
	}

	return inv, nil
}

// MustNew is New for static inventories, it panics on error.
func MustNew(devices ...Device) *Inventory {
	inv, err := New(devices...)
	if err != nil {
		panic(err)
	}
	return inv
}

// All returns every device in inventory order.
func (i *Inventory) All() []Device {
	if i == nil {
		return nil
	}
	return slices.Clone(i.devices)
}

// Get returns the device named name.
func (i *Inventory) Get(name string) (Device, bool) {
	if i == nil {
		return Device{}, false
	}
	idx, ok := i.index[name]
	if !ok {
		return Device{}, false
	}
	return i.devices[idx], true
}

func (i *Inventory) Len() int {
	if i == nil {
		return 0
	}
	return len(i.devices)
}

func (i *Inventory) Names() []string {
	names := make([]string, 0, i.Len())
	for _, d := range i.All() {
		names = append(names, d.Name)
	}
	return names
}

// AttributeValues returns the distinct values taken by an attribute, sorted.
func (i *Inventory) AttributeValues(key string) []string {
	values := make(map[string]struct{})
	for _, d := range i.All() {
		if v, ok := d.Attribute(key); ok && v != "" {
			values[v] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(values))
}

type file struct {
	Defaults Device   `yaml:"defaults"`
	Devices  []Device `yaml:"devices"`
}

// Load reads a YAML inventory file.
//
//	defaults:
//	  platform: cisco_iosxe
//	devices:
//	  - name: R1
//	    address: 10.0.0.1
//	    role: core
//	    site: DC1
func Load(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read inventory: %w", err)
	}

	inv, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid inventory %s: %w", path, err)
	}
	slog.Debug("inventory loaded", "path", path, "devices", inv.Len())
	return inv, nil
}

// Parse decodes an inventory document, see Load for the format.
func Parse(data []byte) (*Inventory, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	devices := make([]Device, 0, len(f.Devices))
	for _, d := range f.Devices {
		devices = append(devices, applyDefaults(d, f.Defaults))
	}

	return New(devices...)
}

func applyDefaults(d, defaults Device) Device {
	if d.Platform == "" {
		d.Platform = defaults.Platform
	}
	if d.Group == "" {
		d.Group = defaults.Group
	}
	if d.Role == "" {
		d.Role = defaults.Role
	}
	if d.Site == "" {
		d.Site = defaults.Site
	}
	if d.Address == "" {
		d.Address = d.Name
	}

	vars := normalizeVars(defaults.Vars)
	maps.Copy(vars, normalizeVars(d.Vars))
	if len(vars) > 0 {
		d.Vars = vars
	} else {
		d.Vars = nil
	}
	return d
}

// normalizeVars converts nested YAML mappings to map[string]any so they can be walked with dotted paths.
func normalizeVars(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return normalizeVars(val)
	case map[any]any:
		return normalizeVars(cast.ToStringMap(val))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}
