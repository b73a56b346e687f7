package sink

import (
	"testing"
)

func TestResultKey(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{
			name: "simple",
			key:  Key{Run: "1000", Category: "health", Device: "R1", Command: "show version"},
			want: "res/1000/health/R1/show%20version",
		},
		{
			name: "separator in command",
			key:  Key{Run: "1000", Category: "health", Device: "R1", Command: "show interfaces Gi0/1"},
			want: "res/1000/health/R1/show%20interfaces%20Gi0%2F1",
		},
		{
			name: "empty command",
			key:  Key{Run: "1000", Category: "health", Device: "R1"},
			want: "res/1000/health/R1/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResultKey(tt.key.Run, tt.key.Category, tt.key.Device, tt.key.Command)
			if string(got) != tt.want {
				t.Errorf("ResultKey() = %v, want %v", string(got), tt.want)
			}
		})
	}
}

func TestPrefixes(t *testing.T) {
	if got := string(RunResultsPrefix("1000", "health")); got != "res/1000/health/" {
		t.Errorf("RunResultsPrefix() = %v", got)
	}
	if got := string(DeviceResultsPrefix("1000", "health", "R1")); got != "res/1000/health/R1/" {
		t.Errorf("DeviceResultsPrefix() = %v", got)
	}
	if got := string(RunKey("1000", "health")); got != "run/1000/health" {
		t.Errorf("RunKey() = %v", got)
	}
}
