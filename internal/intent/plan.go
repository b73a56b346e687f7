package intent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackadi-io/netbatch/internal/inventory"
	"github.com/jackadi-io/netbatch/internal/parser"
)

// Call is one intent with its arguments.
type Call struct {
	Name string           `json:"name"`
	Args parser.Arguments `json:"args"`
}

// ParseCall reads "name key=value ..." as typed on the command line.
func ParseCall(line string) (Call, error) {
	args, err := parser.ParseLine(line)
	if err != nil {
		return Call{}, err
	}
	if len(args.Positional) == 0 {
		return Call{}, errors.New("missing intent name")
	}

	name := args.Positional[0]
	args.Positional = args.Positional[1:]
	return Call{Name: name, Args: args}, nil
}

func (c Call) String() string {
	return c.Name
}

// Plan renders a list of intents per device.
type Plan struct {
	catalog *Catalog
	calls   []Call
}

// NewPlan checks every intent exists before any device is contacted.
func (c *Catalog) NewPlan(calls ...Call) (*Plan, error) {
	if len(calls) == 0 {
		return nil, errors.New("no intent given")
	}
	for _, call := range calls {
		if _, ok := c.infos[call.Name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownIntent, call.Name)
		}
	}
	return &Plan{catalog: c, calls: calls}, nil
}

// Commands returns the commands of the plan for device, in intent order.
func (p *Plan) Commands(device inventory.Device) ([]string, error) {
	cmds := make([]string, 0, len(p.calls))
	for _, call := range p.calls {
		cmd, err := p.catalog.Render(call.Name, device, call.Args)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

func (p *Plan) String() string {
	names := make([]string, 0, len(p.calls))
	for _, c := range p.calls {
		names = append(names, c.String())
	}
	return "intent:" + strings.Join(names, ",")
}
