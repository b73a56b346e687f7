// Package intent maps an operator intent and a device platform to the command to run.
//
// The catalog is a typed lookup table loaded from YAML:
//
//	interfaces:
//	  description: interface status summary
//	  commands:
//	    cisco_iosxe: show ip interface brief
//	    juniper_junos: show interfaces terse
//	    default: show interfaces
//	bgp-neighbor:
//	  commands:
//	    cisco_iosxe: show bgp neighbors {{ .Args.peer }}
//
// Commands are text/template templates executed with the device and the intent arguments.
package intent

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"text/template"

	"github.com/goccy/go-yaml"
	"github.com/jackadi-io/netbatch/internal/inventory"
	"github.com/jackadi-io/netbatch/internal/parser"
)

// DefaultPlatform is the fallback entry used when a device platform has no dedicated command.
const DefaultPlatform = "default"

var (
	ErrUnknownIntent       = errors.New("unknown intent")
	ErrUnsupportedPlatform = errors.New("intent not supported on platform")
)

//go:embed default.yaml
var defaultCatalog []byte

type key struct {
	intent   string
	platform string
}

type definition struct {
	Description string            `yaml:"description"`
	Commands    map[string]string `yaml:"commands"`
}

// Info describes a catalog entry.
type Info struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Platforms   []string `json:"platforms" yaml:"platforms"`
}

// Catalog is immutable once loaded and safe for concurrent use.
type Catalog struct {
	templates map[key]*template.Template
	sources   map[key]string
	infos     map[string]Info
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("invalid built-in intent catalog: %s", err))
	}
	return c
}

// Load reads a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read intents: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid intents %s: %w", path, err)
	}
	slog.Debug("intents loaded", "path", path, "intents", len(c.infos))
	return c, nil
}

// Parse decodes a catalog document and compiles every template.
func Parse(data []byte) (*Catalog, error) {
	defs := map[string]definition{}
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, err
	}

	c := &Catalog{
		templates: make(map[key]*template.Template),
		sources:   make(map[key]string),
		infos:     make(map[string]Info, len(defs)),
	}

	var errs []error
	for name, def := range defs {
		name = strings.TrimSpace(name)
		if len(def.Commands) == 0 {
			errs = append(errs, fmt.Errorf("intent %q has no command", name))
			continue
		}

		for platform, src := range def.Commands {
			tmpl, err := template.New(name + "/" + platform).Option("missingkey=error").Parse(src)
			if err != nil {
				errs = append(errs, fmt.Errorf("intent %q, platform %q: %w", name, platform, err))
				continue
			}
			k := key{intent: name, platform: platform}
			c.templates[k] = tmpl
			c.sources[k] = src
		}

		c.infos[name] = Info{
			Name:        name,
			Description: def.Description,
			Platforms:   slices.Sorted(maps.Keys(def.Commands)),
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return c, nil
}

// Lookup returns the raw command template of intent for platform, falling back to the default entry.
func (c *Catalog) Lookup(intent, platform string) (string, error) {
	k, err := c.resolve(intent, platform)
	if err != nil {
		return "", err
	}
	return c.sources[k], nil
}

func (c *Catalog) resolve(intent, platform string) (key, error) {
	if _, ok := c.infos[intent]; !ok {
		return key{}, fmt.Errorf("%w: %q", ErrUnknownIntent, intent)
	}
	if k := (key{intent, platform}); c.templates[k] != nil {
		return k, nil
	}
	if k := (key{intent, DefaultPlatform}); c.templates[k] != nil {
		return k, nil
	}
	return key{}, fmt.Errorf("%w: %q on %q", ErrUnsupportedPlatform, intent, platform)
}

type templateData struct {
	Device     inventory.Device
	Args       map[string]string
	Positional []string
}

// Render builds the command of intent for device.
func (c *Catalog) Render(intent string, device inventory.Device, args parser.Arguments) (string, error) {
	k, err := c.resolve(intent, device.Platform)
	if err != nil {
		return "", err
	}

	if args.Options == nil {
		args.Options = map[string]string{}
	}

	var sb strings.Builder
	data := templateData{Device: device, Args: args.Options, Positional: args.Positional}
	if err := c.templates[k].Execute(&sb, data); err != nil {
		return "", fmt.Errorf("unable to render intent %q for %s: %w", intent, device.Name, err)
	}

	cmd := strings.Join(strings.Fields(sb.String()), " ")
	if cmd == "" {
		return "", fmt.Errorf("intent %q rendered an empty command for %s", intent, device.Name)
	}
	return cmd, nil
}

// Intents lists the catalog sorted by name.
func (c *Catalog) Intents() []Info {
	out := slices.Collect(maps.Values(c.infos))
	slices.SortFunc(out, func(a, b Info) int { return strings.Compare(a.Name, b.Name) })
	return out
}
