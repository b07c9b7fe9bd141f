// Package registry maps protocol identifiers to implementations.
package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tturner/dcpf/internal/protocol"
	"github.com/tturner/dcpf/internal/protocol/ac250k"
	"github.com/tturner/dcpf/internal/protocol/evr116"
	"github.com/tturner/dcpf/internal/protocol/spinel"
)

// Constructor returns a protocol instance.
type Constructor func() protocol.Protocol

var constructors = map[string]Constructor{
	"spinel66": func() protocol.Protocol { return spinel.Spinel66{} },
	"spinel97": func() protocol.Protocol { return spinel.Spinel97{} },
	"evr116":   func() protocol.Protocol { return evr116.EVR116{} },
	"ac250k":   func() protocol.Protocol { return ac250k.AC250K{} },
}

// New returns the protocol registered under name (case-insensitive).
func New(name string) (protocol.Protocol, error) {
	ctor, ok := constructors[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown protocol %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return ctor(), nil
}

// Names lists the registered protocol identifiers in sorted order.
func Names() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
