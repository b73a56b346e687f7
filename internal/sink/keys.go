package sink

import "net/url"

const (
	ResultKeyPrefix = "res"
	RunKeyPrefix    = "run"
	keySeparator    = "/"
)

// Key identifies one stored command result.
type Key struct {
	Run      string
	Category string
	Device   string
	Command  string
}

func (k Key) Bytes() []byte {
	return join(ResultKeyPrefix, k.Run, k.Category, k.Device, k.Command)
}

// join escapes every component: a separator in a command never splits a key.
func join(prefix string, parts ...string) []byte {
	b := []byte(prefix)
	for _, p := range parts {
		b = append(b, keySeparator...)
		b = append(b, url.PathEscape(p)...)
	}
	return b
}

// ResultKey returns res/<run>/<category>/<device>/<command>.
func ResultKey(run, category, device, command string) []byte {
	return Key{Run: run, Category: category, Device: device, Command: command}.Bytes()
}

// RunResultsPrefix is the prefix of every result of a run.
func RunResultsPrefix(run, category string) []byte {
	return append(join(ResultKeyPrefix, run, category), keySeparator...)
}

// DeviceResultsPrefix is the prefix of every result of a device in a run.
func DeviceResultsPrefix(run, category, device string) []byte {
	return append(join(ResultKeyPrefix, run, category, device), keySeparator...)
}

// RunKey returns run/<run>/<category>, the key of the batch metadata.
func RunKey(run, category string) []byte {
	return join(RunKeyPrefix, run, category)
}
