package inventory

import "github.com/google/go-cmp/cmp"

type diff struct {
	Key      string
	Expected any
	Got      any
}

// Compare lists the attributes differing between two declarations of a device.
func Compare(device1, device2 Device) []diff {
	diffs := []diff{}
	if device1.Name != device2.Name {
		diffs = append(diffs, diff{"name", device1.Name, device2.Name})
	}
	if device1.Address != device2.Address {
		diffs = append(diffs, diff{"address", device1.Address, device2.Address})
	}
	if device1.Platform != device2.Platform {
		diffs = append(diffs, diff{"platform", device1.Platform, device2.Platform})
	}
	if device1.Group != device2.Group {
		diffs = append(diffs, diff{"group", device1.Group, device2.Group})
	}
	if device1.Role != device2.Role {
		diffs = append(diffs, diff{"role", device1.Role, device2.Role})
	}
	if device1.Site != device2.Site {
		diffs = append(diffs, diff{"site", device1.Site, device2.Site})
	}
	if !cmp.Equal(device1.Vars, device2.Vars) {
		diffs = append(diffs, diff{"vars", len(device1.Vars), len(device2.Vars)}) // full maps would make the output unreadable
	}

	return diffs
}
