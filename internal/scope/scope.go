// Package scope turns a scope expression into the exact list of targeted devices.
//
// Supported expressions, evaluated in this order (first match wins):
//
//	all | all devices | ALL routers          every device, inventory order
//	all core routers                         devices whose role is "core"
//	role:core | devices in site:DC1          exact attribute match (group, role, site, platform)
//	vars.os.version:17.9                     exact match on a device variable (dotted path)
//	R1-R5                                    numeric range sharing a prefix, gaps are skipped
//	R1,R2,S1                                 explicit list, unknown names are reported, not fatal
//
// Resolution is a pure function of the expression and the inventory snapshot.
package scope

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/claytonsingh/golib/dotaccess"
	"github.com/jackadi-io/netbatch/internal/config"
	"github.com/jackadi-io/netbatch/internal/inventory"
)

// ParseError is returned for malformed or unrecognized expressions.
type ParseError struct {
	Expr   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid scope %q: %s", e.Expr, e.Reason)
}

// DeviceNotFoundError lists the names of an explicit list which are absent from the inventory.
type DeviceNotFoundError struct {
	Names []string
}

func (e *DeviceNotFoundError) Error() string {
	return fmt.Sprintf("unknown devices: %s", strings.Join(e.Names, ", "))
}

// Rule identifies which grammar rule matched an expression.
type Rule string

const (
	RuleAll      Rule = "all"
	RuleAllRole  Rule = "all-role"
	RuleKeyValue Rule = "key-value"
	RuleRange    Rule = "range"
	RuleList     Rule = "list"
)

// Resolution is the outcome of a successful resolve.
type Resolution struct {
	Devices    []inventory.Device `json:"devices"`
	Unresolved []string           `json:"unresolved,omitempty"`
	Rule       Rule               `json:"rule"`
}

// NotFound returns a *DeviceNotFoundError when some names were not resolved, nil otherwise.
func (r Resolution) NotFound() error {
	if len(r.Unresolved) == 0 {
		return nil
	}
	return &DeviceNotFoundError{Names: slices.Clone(r.Unresolved)}
}

func (r Resolution) Names() []string {
	names := make([]string, 0, len(r.Devices))
	for _, d := range r.Devices {
		names = append(names, d.Name)
	}
	return names
}

// fillerWords are ignored around "all": "all devices", "all core routers".
var fillerWords = map[string]bool{
	"device": true, "devices": true,
	"router": true, "routers": true,
	"switch": true, "switches": true,
	"firewall": true, "firewalls": true,
	"host": true, "hosts": true,
	"node": true, "nodes": true,
	"the": true,
}

var (
	keyValueRe = regexp.MustCompile(`^(?i:devices\s+in\s+)?([A-Za-z][\w.-]*)\s*:\s*(\S+)$`)
	rangeRe    = regexp.MustCompile(`^([A-Za-z][A-Za-z_.-]*?)(\d+)-([A-Za-z][A-Za-z_.-]*?)(\d+)$`)
	nameRe     = regexp.MustCompile(`^[^\s,]+$`)
)

// Resolve parses expr and returns the matching devices, deduplicated, first-seen order.
func Resolve(expr string, inv *inventory.Inventory) (Resolution, error) {
	normalized := strings.Join(strings.Fields(expr), " ")
	if normalized == "" {
		return Resolution{}, &ParseError{Expr: expr, Reason: "empty expression"}
	}

	c := newCollector()
	rule, err := resolve(normalized, inv, c)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Expr = expr
		}
		return Resolution{}, err
	}

	res := Resolution{Devices: c.devices, Unresolved: c.unresolved, Rule: rule}
	slog.Debug("scope resolved", "expr", expr, "rule", rule, "devices", len(res.Devices), "unresolved", len(res.Unresolved))
	return res, nil
}

func resolve(expr string, inv *inventory.Inventory, c *collector) (Rule, error) {
	tokens := strings.Fields(strings.ToLower(expr))

	if tokens[0] == "all" {
		rest := slices.DeleteFunc(slices.Clone(tokens[1:]), func(tok string) bool { return fillerWords[tok] })
		switch {
		case len(rest) == 0:
			c.add(inv.All()...)
			return RuleAll, nil
		case !strings.Contains(expr, config.KeyValueSep):
			matchRole(strings.Join(rest, " "), inv, c)
			return RuleAllRole, nil
		}
	}

	if m := keyValueRe.FindStringSubmatch(expr); m != nil {
		if err := matchKeyValue(m[1], m[2], inv, c); err != nil {
			return "", &ParseError{Reason: err.Error()}
		}
		return RuleKeyValue, nil
	}

	if m := rangeRe.FindStringSubmatch(expr); m != nil && m[1] == m[3] {
		if err := matchRange(m[1], m[2], m[4], inv, c); err != nil {
			return "", &ParseError{Reason: err.Error()}
		}
		return RuleRange, nil
	}

	if names, ok := splitList(expr); ok {
		for _, name := range names {
			d, found := inv.Get(name)
			if !found {
				c.miss(name)
				continue
			}
			c.add(d)
		}
		return RuleList, nil
	}

	return "", &ParseError{Reason: "expected all, all <role>, key:value, a range like R1-R5 or a comma separated list"}
}

// matchRole keeps the devices whose role equals filter, ignoring case and a plural "s".
//
// An unknown role yields an empty set.
func matchRole(filter string, inv *inventory.Inventory, c *collector) {
	singular := strings.TrimSuffix(filter, "s")
	for _, d := range inv.All() {
		role := strings.ToLower(d.Role)
		if role == "" {
			continue
		}
		if role == filter || role == singular {
			c.add(d)
		}
	}
}

func matchKeyValue(key, value string, inv *inventory.Inventory, c *collector) error {
	if strings.HasPrefix(strings.ToLower(key), config.VarsPrefix) {
		// variable paths keep their case.
		path := key[len(config.VarsPrefix):]
		if path == "" {
			return fmt.Errorf("empty variable path in %q", key)
		}
		for _, d := range inv.All() {
			if v, found := lookupVar(d, path); found && v == value {
				c.add(d)
			}
		}
		return nil
	}

	key = strings.ToLower(key)
	if !inventory.IsAttribute(key) {
		return fmt.Errorf("unsupported filter key %q, expected group, role, site, platform or vars.<path>", key)
	}

	for _, d := range inv.All() {
		if attr, _ := d.Attribute(key); attr == value {
			c.add(d)
		}
	}
	return nil
}

// lookupVar returns the string form of a leaf device variable.
func lookupVar(d inventory.Device, path string) (string, bool) {
	if d.Vars == nil {
		return "", false
	}

	a, err := dotaccess.NewAccessorDot[any, map[string]any](&d.Vars, path)
	if err != nil {
		return "", false
	}

	value := a.Get()
	if rv := reflect.ValueOf(value); rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "", false
		}
		value = rv.Elem().Interface()
	}

	// only leaves can be compared to a scalar value.
	switch reflect.ValueOf(value).Kind() { //nolint:exhaustive  //we do not support all types
	case reflect.Invalid, reflect.Array, reflect.Chan, reflect.Func, reflect.Interface, reflect.Map,
		reflect.Pointer, reflect.Slice, reflect.Struct, reflect.UnsafePointer:
		return "", false
	}

	return fmt.Sprint(value), true
}

func matchRange(prefix, from, to string, inv *inventory.Inventory, c *collector) error {
	start, err := strconv.Atoi(from)
	if err != nil {
		return fmt.Errorf("invalid range start %q", from)
	}
	end, err := strconv.Atoi(to)
	if err != nil {
		return fmt.Errorf("invalid range end %q", to)
	}
	if start > end {
		return fmt.Errorf("range start %d is greater than range end %d", start, end)
	}

	type numbered struct {
		n int
		d inventory.Device
	}
	matched := []numbered{}
	for _, d := range inv.All() {
		suffix, ok := strings.CutPrefix(d.Name, prefix)
		if !ok || suffix == "" || !isDigits(suffix) {
			continue
		}
		n, err := strconv.Atoi(suffix)
		if err != nil || n < start || n > end {
			continue
		}
		matched = append(matched, numbered{n, d})
	}

	slices.SortStableFunc(matched, func(a, b numbered) int { return a.n - b.n })
	for _, m := range matched {
		c.add(m.d)
	}
	return nil
}

func splitList(expr string) ([]string, bool) {
	names := []string{}
	for item := range strings.SplitSeq(expr, config.ListSeparator) {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if !nameRe.MatchString(item) {
			return nil, false
		}
		names = append(names, item)
	}
	return names, len(names) > 0
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// collector accumulates devices once, in first-seen order.
type collector struct {
	seen       map[string]bool
	missed     map[string]bool
	devices    []inventory.Device
	unresolved []string
}

func newCollector() *collector {
	return &collector{
		seen:       make(map[string]bool),
		missed:     make(map[string]bool),
		devices:    []inventory.Device{},
		unresolved: []string{},
	}
}

func (c *collector) add(devices ...inventory.Device) {
	for _, d := range devices {
		if c.seen[d.Name] {
			continue
		}
		c.seen[d.Name] = true
		c.devices = append(c.devices, d)
	}
}

func (c *collector) miss(name string) {
	if c.missed[name] {
		return
	}
	c.missed[name] = true
	c.unresolved = append(c.unresolved, name)
}
