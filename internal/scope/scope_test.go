package scope

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jackadi-io/netbatch/internal/inventory"
)

func testInventory() *inventory.Inventory {
	return inventory.MustNew(
		inventory.Device{Name: "R1", Role: "core", Site: "lab", Group: "backbone", Platform: "cisco_iosxe",
			Vars: map[string]any{"os": map[string]any{"version": "17.9"}, "rack": 4}},
		inventory.Device{Name: "R2", Role: "core", Site: "lab", Group: "backbone", Platform: "cisco_iosxe",
			Vars: map[string]any{"os": map[string]any{"version": "17.6"}}},
		inventory.Device{Name: "R4", Role: "edge", Site: "DC1", Group: "wan", Platform: "juniper_junos"},
		inventory.Device{Name: "S1", Role: "access", Site: "DC1", Group: "campus", Platform: "arista_eos"},
		inventory.Device{Name: "S2", Role: "access", Site: "dc1", Group: "campus", Platform: "arista_eos"},
		inventory.Device{Name: "sw08", Role: "access", Site: "DC2"},
		inventory.Device{Name: "sw09", Role: "access", Site: "DC2"},
		inventory.Device{Name: "sw10", Role: "access", Site: "DC2"},
	)
}

func TestResolve(t *testing.T) {
	inv := testInventory()

	tests := []struct {
		expr           string
		wantDevices    []string
		wantUnresolved []string
		wantRule       Rule
	}{
		// all
		{expr: "all", wantDevices: inv.Names(), wantRule: RuleAll},
		{expr: "ALL", wantDevices: inv.Names(), wantRule: RuleAll},
		{expr: "  all   devices ", wantDevices: inv.Names(), wantRule: RuleAll},
		{expr: "all routers", wantDevices: inv.Names(), wantRule: RuleAll},

		// all <role> <kind>
		{expr: "all core routers", wantDevices: []string{"R1", "R2"}, wantRule: RuleAllRole},
		{expr: "all Core", wantDevices: []string{"R1", "R2"}, wantRule: RuleAllRole},
		{expr: "all access switches", wantDevices: []string{"S1", "S2", "sw08", "sw09", "sw10"}, wantRule: RuleAllRole},
		{expr: "all edges", wantDevices: []string{"R4"}, wantRule: RuleAllRole},
		{expr: "all spine routers", wantDevices: []string{}, wantRule: RuleAllRole},

		// key:value
		{expr: "role:core", wantDevices: []string{"R1", "R2"}, wantRule: RuleKeyValue},
		{expr: "site:DC1", wantDevices: []string{"R4", "S1"}, wantRule: RuleKeyValue},
		{expr: "devices in site:DC1", wantDevices: []string{"R4", "S1"}, wantRule: RuleKeyValue},
		{expr: "Devices In group:campus", wantDevices: []string{"S1", "S2"}, wantRule: RuleKeyValue},
		{expr: "group: wan", wantDevices: []string{"R4"}, wantRule: RuleKeyValue},
		{expr: "platform:arista_eos", wantDevices: []string{"S1", "S2"}, wantRule: RuleKeyValue},
		{expr: "role:Core", wantDevices: []string{}, wantRule: RuleKeyValue},
		{expr: "vars.os.version:17.9", wantDevices: []string{"R1"}, wantRule: RuleKeyValue},
		{expr: "vars.rack:4", wantDevices: []string{"R1"}, wantRule: RuleKeyValue},
		{expr: "vars.os:17.9", wantDevices: []string{}, wantRule: RuleKeyValue},

		// range
		{expr: "R1-R5", wantDevices: []string{"R1", "R2", "R4"}, wantRule: RuleRange},
		{expr: "R2-R2", wantDevices: []string{"R2"}, wantRule: RuleRange},
		{expr: "sw8-sw9", wantDevices: []string{"sw08", "sw09"}, wantRule: RuleRange},
		{expr: "sw09-sw12", wantDevices: []string{"sw09", "sw10"}, wantRule: RuleRange},
		{expr: "X1-X3", wantDevices: []string{}, wantRule: RuleRange},

		// list
		{expr: "R1", wantDevices: []string{"R1"}, wantRule: RuleList},
		{expr: "R2,R1", wantDevices: []string{"R2", "R1"}, wantRule: RuleList},
		{expr: "R1, S1 ,R1", wantDevices: []string{"R1", "S1"}, wantRule: RuleList},
		{expr: "R1,R9,S1,R9", wantDevices: []string{"R1", "S1"}, wantUnresolved: []string{"R9"}, wantRule: RuleList},
		{expr: "R9,R8", wantDevices: []string{}, wantUnresolved: []string{"R9", "R8"}, wantRule: RuleList},
		{expr: "R1-S5", wantDevices: []string{}, wantUnresolved: []string{"R1-S5"}, wantRule: RuleList},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Resolve(tt.expr, inv)
			if err != nil {
				t.Fatalf("Resolve() unexpected error: %v", err)
			}

			if diff := cmp.Diff(got.Names(), tt.wantDevices); diff != "" {
				t.Errorf("devices mismatch (-got +want):\n%s", diff)
			}

			wantUnresolved := tt.wantUnresolved
			if wantUnresolved == nil {
				wantUnresolved = []string{}
			}
			if diff := cmp.Diff(got.Unresolved, wantUnresolved); diff != "" {
				t.Errorf("unresolved mismatch (-got +want):\n%s", diff)
			}

			if got.Rule != tt.wantRule {
				t.Errorf("rule = %s, want %s", got.Rule, tt.wantRule)
			}
		})
	}
}

func TestResolveParseErrors(t *testing.T) {
	inv := testInventory()

	tests := []string{
		"",
		"   ",
		"core routers",
		"hostname:R1",
		"devices in R1",
		"all role:core",
		"R5-R1",
		"vars.:x",
		"R1 R2",
	}

	for _, expr := range tests {
		t.Run(expr, func(t *testing.T) {
			_, err := Resolve(expr, inv)

			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ParseError, got %v", err)
			}
			if pe.Expr != expr {
				t.Errorf("ParseError.Expr = %q, want %q", pe.Expr, expr)
			}
		})
	}
}

func TestResolveAllKeepsInventoryOrder(t *testing.T) {
	inv := inventory.MustNew(
		inventory.Device{Name: "zeta"},
		inventory.Device{Name: "alpha"},
		inventory.Device{Name: "mid"},
	)

	for _, expr := range []string{"all", "All Devices", "all nodes"} {
		got, err := Resolve(expr, inv)
		if err != nil {
			t.Fatalf("Resolve(%q) error: %v", expr, err)
		}
		if diff := cmp.Diff(got.Devices, inv.All()); diff != "" {
			t.Errorf("Resolve(%q) mismatch (-got +want):\n%s", expr, diff)
		}
	}
}

func TestResolveIsPure(t *testing.T) {
	inv := testInventory()

	first, err := Resolve("R1,R9", inv)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Resolve("R1,R9", inv)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("two resolutions differ:\n%s", diff)
	}
	if diff := cmp.Diff(inv.Names(), testInventory().Names()); diff != "" {
		t.Errorf("inventory modified:\n%s", diff)
	}
}

func TestNotFound(t *testing.T) {
	inv := testInventory()

	res, err := Resolve("R1,R7", inv)
	if err != nil {
		t.Fatal(err)
	}

	var nf *DeviceNotFoundError
	if !errors.As(res.NotFound(), &nf) {
		t.Fatalf("expected DeviceNotFoundError, got %v", res.NotFound())
	}
	if diff := cmp.Diff(nf.Names, []string{"R7"}); diff != "" {
		t.Errorf("Mismatch:\n%s", diff)
	}

	res, err = Resolve("R1", inv)
	if err != nil {
		t.Fatal(err)
	}
	if res.NotFound() != nil {
		t.Errorf("NotFound() = %v, want nil", res.NotFound())
	}
}

func TestResolveEmptyInventory(t *testing.T) {
	got, err := Resolve("all", inventory.MustNew())
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Devices) != 0 {
		t.Errorf("expected no device, got %v", got.Names())
	}
}
