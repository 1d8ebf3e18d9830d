package domain

import (
	"fmt"
	"strings"
)

// Edge names the strategy that opened a position. The set is closed; values
// outside it can only be produced by ParseEdge failing.
type Edge struct {
	name string
}

var (
	EdgeUndefined = Edge{"undefined"}
	Edge60        = Edge{"edge60"}
	Edge61        = Edge{"edge61"}
	Edge62        = Edge{"edge62"}
	Edge70        = Edge{"edge70"}
)

// KnownEdges lists every edge a signal may name.
var KnownEdges = []Edge{Edge60, Edge61, Edge62, Edge70}

// ParseEdge maps s onto the closed set. "undefined" is accepted so that
// stored identifiers for manually placed orders round-trip.
func ParseEdge(s string) (Edge, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == EdgeUndefined.name {
		return EdgeUndefined, nil
	}
	for _, e := range KnownEdges {
		if e.name == v {
			return e, nil
		}
	}
	return Edge{}, fmt.Errorf("%w: %q", ErrUnauthorised, s)
}

func (e Edge) String() string {
	if e.name == "" {
		return EdgeUndefined.name
	}
	return e.name
}

// IsZero reports whether e was never assigned.
func (e Edge) IsZero() bool { return e.name == "" }

func (e Edge) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *Edge) UnmarshalText(b []byte) error {
	v, err := ParseEdge(string(b))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// EdgeSet is the runtime allow-list of edges permitted to trade.
type EdgeSet map[Edge]struct{}

// NewEdgeSet builds an EdgeSet from configured names, rejecting unknown ones.
func NewEdgeSet(names []string) (EdgeSet, error) {
	set := make(EdgeSet, len(names))
	for _, n := range names {
		e, err := ParseEdge(n)
		if err != nil {
			return nil, err
		}
		if e == EdgeUndefined {
			return nil, fmt.Errorf("%w: %q cannot be authorised", ErrUnauthorised, n)
		}
		set[e] = struct{}{}
	}
	return set, nil
}

// Contains reports whether e is allowed.
func (s EdgeSet) Contains(e Edge) bool {
	_, ok := s[e]
	return ok
}

// Direction is the trade direction of a signal. Spot trading only goes long.
type Direction string

const DirectionLong Direction = "long"

// ParseDirection validates a direction string at the boundary.
func ParseDirection(s string) (Direction, error) {
	if strings.EqualFold(strings.TrimSpace(s), string(DirectionLong)) {
		return DirectionLong, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDirection, s)
}
