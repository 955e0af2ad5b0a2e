package plugin

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cognicore/openbr/pkg/br/brerr"
	"github.com/cognicore/openbr/pkg/br/template"
)

// Args are the key=value parameters of a stage description,
// e.g. Scale(factor=2).
type Args map[string]string

// ParseCall splits "Name(k=v,flag)" into its name and arguments.
func ParseCall(desc string) (string, Args, error) {
	desc = strings.TrimSpace(desc)
	open := strings.IndexByte(desc, '(')
	if open < 0 {
		if desc == "" {
			return "", nil, fmt.Errorf("%w: empty stage description", brerr.ErrInvalidDescriptor)
		}
		return desc, Args{}, nil
	}
	if !strings.HasSuffix(desc, ")") {
		return "", nil, fmt.Errorf("%w: unbalanced parentheses in %q", brerr.ErrInvalidDescriptor, desc)
	}

	name := strings.TrimSpace(desc[:open])
	if name == "" {
		return "", nil, fmt.Errorf("%w: missing stage name in %q", brerr.ErrInvalidDescriptor, desc)
	}

	args := Args{}
	for _, part := range template.SplitTopLevel(desc[open+1:len(desc)-1], ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			value = "true"
		}
		args[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return name, args, nil
}

// Encode renders the arguments in sorted key order.
func (a Args) Encode() string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + a[k]
	}
	return strings.Join(parts, ",")
}

func (a Args) clone() Args {
	out := make(Args, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// String returns key or def.
func (a Args) String(key, def string) string {
	if v, ok := a[key]; ok {
		return v
	}
	return def
}

// Float parses key as a float64.
func (a Args) Float(key string, def float64) (float64, error) {
	v, ok := a[key]
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("%w: %s=%q is not a number", brerr.ErrInvalidArgument, key, v)
	}
	return f, nil
}

// Int parses key as an int.
func (a Args) Int(key string, def int) (int, error) {
	v, ok := a[key]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%w: %s=%q is not an integer", brerr.ErrInvalidArgument, key, v)
	}
	return n, nil
}

// Bool parses key as a bool.
func (a Args) Bool(key string, def bool) (bool, error) {
	v, ok := a[key]
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%w: %s=%q is not a boolean", brerr.ErrInvalidArgument, key, v)
	}
	return b, nil
}
