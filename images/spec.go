package images

import (
	"fmt"
	"strings"

	"github.com/transientvm/transient/types"
)

var knownProtocols = map[string]types.Protocol{
	"vagrant": types.ProtocolVagrant,
	"http":    types.ProtocolHTTP,
	"file":    types.ProtocolFile,
}

// ParseSpec parses "<name>[,<proto>=<source>][,<opt>=<val>...]".
// A bare name defaults to the vagrant protocol with
// source == name. The first "," introduces the protocol assignment, if
// any; every later comma-separated field must be a "key=value" pair
// recognized or not, carried through as an option.
func ParseSpec(raw string) (types.ImageSpec, error) {
	fields := strings.Split(raw, ",")
	name := fields[0]
	if name == "" {
		return types.ImageSpec{}, fmt.Errorf("images: empty name in spec %q", raw)
	}

	spec := types.ImageSpec{
		Name:     name,
		Protocol: types.ProtocolVagrant,
		Source:   name,
		Options:  map[string]string{},
	}
	if len(fields) == 1 {
		return spec, nil
	}

	first := fields[1]
	key, val, ok := strings.Cut(first, "=")
	if !ok {
		return types.ImageSpec{}, fmt.Errorf("images: malformed field %q in spec %q", first, raw)
	}
	proto, known := knownProtocols[key]
	if !known {
		return types.ImageSpec{}, fmt.Errorf("images: unknown protocol %q in spec %q", key, raw)
	}
	spec.Protocol = proto
	spec.Source = val

	for _, f := range fields[2:] {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			return types.ImageSpec{}, fmt.Errorf("images: malformed option %q in spec %q", f, raw)
		}
		spec.Options[k] = v
	}
	return spec, nil
}
