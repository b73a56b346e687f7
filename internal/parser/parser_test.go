package parser

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseArgs(t *testing.T) {
	tests := map[string]struct {
		args           []string
		wantPositional []string
		wantOptions    map[string]string
		wantErr        bool
	}{
		"simple key-value": {
			args:        []string{"name=Gi0/1"},
			wantOptions: map[string]string{"name": "Gi0/1"},
		},
		"quoted value": {
			args:        []string{`description="uplink to core"`},
			wantOptions: map[string]string{"description": "uplink to core"},
		},
		"key with hyphen": {
			args:        []string{"peer-address=10.0.0.2"},
			wantOptions: map[string]string{"peer-address": "10.0.0.2"},
		},
		"key with underscore and digits": {
			args:        []string{"vrf_1=MGMT"},
			wantOptions: map[string]string{"vrf_1": "MGMT"},
		},
		"multiple options": {
			args:        []string{"name=Gi0/1", "vrf=MGMT", "detail=true"},
			wantOptions: map[string]string{"name": "Gi0/1", "vrf": "MGMT", "detail": "true"},
		},
		"empty value": {
			args:        []string{"vrf="},
			wantOptions: map[string]string{"vrf": ""},
		},
		"positional arguments": {
			args:           []string{"Gi0/1", "Gi0/2"},
			wantPositional: []string{"Gi0/1", "Gi0/2"},
		},
		"positional then options": {
			args:           []string{"Gi0/1", "vrf=MGMT"},
			wantPositional: []string{"Gi0/1"},
			wantOptions:    map[string]string{"vrf": "MGMT"},
		},
		"options then positional should error": {
			args:    []string{"vrf=MGMT", "Gi0/1"},
			wantErr: true,
		},
		"unterminated quote": {
			args:    []string{`description="uplink`},
			wantErr: true,
		},
		"empty args": {
			args: []string{},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			result, err := ParseArgs(tt.args)

			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			wantPositional := tt.wantPositional
			if wantPositional == nil {
				wantPositional = []string{}
			}
			wantOptions := tt.wantOptions
			if wantOptions == nil {
				wantOptions = map[string]string{}
			}

			if diff := cmp.Diff(result.Positional, wantPositional); diff != "" {
				t.Errorf("positional mismatch (-got +want):\n%s", diff)
			}
			if diff := cmp.Diff(result.Options, wantOptions); diff != "" {
				t.Errorf("options mismatch (-got +want):\n%s", diff)
			}
		})
	}
}

func TestParseArgsPositionalAfterOption(t *testing.T) {
	_, err := ParseArgs([]string{"vrf=MGMT", "Gi0/1"})
	if !errors.Is(err, ErrPositionalAfterOption) {
		t.Errorf("expected ErrPositionalAfterOption, got %v", err)
	}
}

func TestParseLine(t *testing.T) {
	got, err := ParseLine(`Gi0/1 description="uplink to core" vrf=MGMT`)
	if err != nil {
		t.Fatal(err)
	}

	want := Arguments{
		Positional: []string{"Gi0/1"},
		Options:    map[string]string{"description": "uplink to core", "vrf": "MGMT"},
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("mismatch (-got +want):\n%s", diff)
	}

	if _, err := ParseLine(`name="open`); err == nil {
		t.Error("expected error for unterminated quote")
	}
}
