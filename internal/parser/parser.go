// Package parser splits intent arguments given on a command line or through the API.
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/shlex"
)

var ErrPositionalAfterOption = errors.New("positional arguments cannot be after key values")

var keyValueRe = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9_-]*)=(.*)$`)

type Arguments struct {
	Positional []string          `json:"positional,omitempty"`
	Options    map[string]string `json:"options,omitempty"`
}

func NewArguments() Arguments {
	return Arguments{
		Positional: []string{},
		Options:    make(map[string]string),
	}
}

// ParseArgs extract positional args and optional args from a list of arguments.
//
// Key value are following the pattern: key=value or key="value".
func ParseArgs(args []string) (Arguments, error) {
	a := NewArguments()

	for _, arg := range args {
		groups := keyValueRe.FindStringSubmatch(arg)
		if groups == nil {
			if len(a.Options) > 0 {
				return Arguments{}, ErrPositionalAfterOption
			}
			a.Positional = append(a.Positional, arg)
			continue
		}

		value, err := shlex.Split(groups[2])
		if err != nil {
			return Arguments{}, fmt.Errorf("failed to process argument %q: %w", groups[1], err)
		}
		a.Options[groups[1]] = strings.Join(value, " ")
	}

	return a, nil
}

// ParseLine splits a shell-like line, honoring quotes, then parses the tokens with ParseArgs.
//
//	interface name="GigabitEthernet0/1" vrf=MGMT
func ParseLine(line string) (Arguments, error) {
	tokens, err := shlex.Split(line)
	if err != nil {
		return Arguments{}, fmt.Errorf("failed to split %q: %w", line, err)
	}
	return ParseArgs(tokens)
}
