package intent

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jackadi-io/netbatch/internal/inventory"
	"github.com/jackadi-io/netbatch/internal/parser"
)

const testCatalog = `
interfaces:
  description: interface status
  commands:
    cisco_iosxe: show ip interface brief
    juniper_junos: show interfaces terse
    default: show interfaces
bgp-neighbor:
  commands:
    cisco_iosxe: show ip bgp neighbors {{ .Args.peer }}
hostname:
  commands:
    default: show run | include hostname {{ .Device.Name }}
`

var (
	iosxe = inventory.Device{Name: "R1", Platform: "cisco_iosxe"}
	junos = inventory.Device{Name: "R4", Platform: "juniper_junos"}
	eos   = inventory.Device{Name: "S1", Platform: "arista_eos"}
)

func mustParse(t *testing.T) *Catalog {
	t.Helper()
	c, err := Parse([]byte(testCatalog))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	return c
}

func TestLookup(t *testing.T) {
	c := mustParse(t)

	tests := []struct {
		intent   string
		platform string
		want     string
		wantErr  error
	}{
		{intent: "interfaces", platform: "cisco_iosxe", want: "show ip interface brief"},
		{intent: "interfaces", platform: "juniper_junos", want: "show interfaces terse"},
		{intent: "interfaces", platform: "arista_eos", want: "show interfaces"},
		{intent: "bgp-neighbor", platform: "juniper_junos", wantErr: ErrUnsupportedPlatform},
		{intent: "vlans", platform: "cisco_iosxe", wantErr: ErrUnknownIntent},
	}

	for _, tt := range tests {
		t.Run(tt.intent+"/"+tt.platform, func(t *testing.T) {
			got, err := c.Lookup(tt.intent, tt.platform)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Lookup() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Lookup() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Lookup() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRender(t *testing.T) {
	c := mustParse(t)

	got, err := c.Render("bgp-neighbor", iosxe, parser.Arguments{Options: map[string]string{"peer": "10.0.0.2"}})
	if err != nil {
		t.Fatal(err)
	}
	if got != "show ip bgp neighbors 10.0.0.2" {
		t.Errorf("Render() = %q", got)
	}

	got, err = c.Render("hostname", eos, parser.Arguments{})
	if err != nil {
		t.Fatal(err)
	}
	if got != "show run | include hostname S1" {
		t.Errorf("Render() = %q", got)
	}

	if _, err := c.Render("bgp-neighbor", iosxe, parser.Arguments{}); err == nil {
		t.Error("Render() expected error for a missing argument")
	}
}

func TestParseErrors(t *testing.T) {
	tests := map[string]string{
		"invalid yaml":     "interfaces: [",
		"no command":       "interfaces:\n  description: nothing\n",
		"invalid template": "interfaces:\n  commands:\n    default: show {{ .Args.x\n",
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); err == nil {
				t.Error("Parse() expected error")
			}
		})
	}
}

func TestIntents(t *testing.T) {
	c := mustParse(t)

	want := []Info{
		{Name: "bgp-neighbor", Platforms: []string{"cisco_iosxe"}},
		{Name: "hostname", Platforms: []string{"default"}},
		{Name: "interfaces", Description: "interface status", Platforms: []string{"cisco_iosxe", "default", "juniper_junos"}},
	}
	if diff := cmp.Diff(c.Intents(), want); diff != "" {
		t.Errorf("Intents() mismatch (-got +want):\n%s", diff)
	}
}

func TestDefault(t *testing.T) {
	c := Default()

	got, err := c.Render("routes", iosxe, parser.Arguments{})
	if err != nil {
		t.Fatal(err)
	}
	if got != "show ip route" {
		t.Errorf("routes without vrf = %q", got)
	}

	got, err = c.Render("routes", junos, parser.Arguments{Options: map[string]string{"vrf": "MGMT"}})
	if err != nil {
		t.Fatal(err)
	}
	if got != "show route table MGMT.inet.0" {
		t.Errorf("routes with vrf = %q", got)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intents.yaml")
	if err := os.WriteFile(path, []byte(testCatalog), 0600); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Intents()) != 3 {
		t.Errorf("expected 3 intents, got %d", len(c.Intents()))
	}

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestPlan(t *testing.T) {
	c := mustParse(t)

	bgp, err := ParseCall("bgp-neighbor peer=10.0.0.9")
	if err != nil {
		t.Fatal(err)
	}
	plan, err := c.NewPlan(Call{Name: "interfaces"}, bgp)
	if err != nil {
		t.Fatal(err)
	}

	got, err := plan.Commands(iosxe)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"show ip interface brief", "show ip bgp neighbors 10.0.0.9"}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Commands() mismatch (-got +want):\n%s", diff)
	}

	if _, err := plan.Commands(junos); !errors.Is(err, ErrUnsupportedPlatform) {
		t.Errorf("Commands() on junos error = %v, want ErrUnsupportedPlatform", err)
	}

	if plan.String() != "intent:interfaces,bgp-neighbor" {
		t.Errorf("String() = %q", plan.String())
	}

	if _, err := c.NewPlan(Call{Name: "unknown"}); !errors.Is(err, ErrUnknownIntent) {
		t.Errorf("NewPlan() error = %v, want ErrUnknownIntent", err)
	}
	if _, err := c.NewPlan(); err == nil {
		t.Error("NewPlan() expected error without intent")
	}
}

func TestParseCall(t *testing.T) {
	got, err := ParseCall(`interface name="Gi0/1"`)
	if err != nil {
		t.Fatal(err)
	}
	want := Call{Name: "interface", Args: parser.Arguments{Positional: []string{}, Options: map[string]string{"name": "Gi0/1"}}}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("ParseCall() mismatch (-got +want):\n%s", diff)
	}

	if _, err := ParseCall(""); err == nil {
		t.Error("ParseCall() expected error for empty line")
	}
}
