package store

import (
	"fmt"

	pkgerrors "github.com/chris-alexander-pop/throttled/pkg/errors"
)

// ActionFactory builds an AtomicAction bound to store s. Implementations
// type-assert s down to the concrete backend they require (e.g.
// *memory.Store or *remote.Store) without checking; MakeAtomic only hands
// a factory stores whose Type matches its registration, and the assertion
// panics for any other Store implementation that reports that Type.
type ActionFactory func(s Store) (AtomicAction, error)

var actionRegistry = map[Type]map[ActionKind]ActionFactory{}

// RegisterAction wires the AtomicAction implementation an algorithm package
// provides for a given backend type and action kind. Algorithm packages
// call this from an init() function — explicit registration at module
// init, not reflection-based auto-registration.
func RegisterAction(storeType Type, kind ActionKind, factory ActionFactory) {
	m, ok := actionRegistry[storeType]
	if !ok {
		m = map[ActionKind]ActionFactory{}
		actionRegistry[storeType] = m
	}
	m[kind] = factory
}

// MakeAtomic looks up and constructs the AtomicAction registered for s's
// store type and kind. Backend Store implementations delegate their
// MakeAtomic method to this function so that neither store package needs
// to import any algorithm package.
func MakeAtomic(s Store, kind ActionKind) (AtomicAction, error) {
	m, ok := actionRegistry[s.Type()]
	if !ok {
		return nil, pkgerrors.SetUp(fmt.Sprintf("no atomic actions registered for store type %q", s.Type()), nil)
	}
	factory, ok := m[kind]
	if !ok {
		return nil, pkgerrors.SetUp(fmt.Sprintf("atomic action %q is not supported by store type %q", kind, s.Type()), nil)
	}
	return factory(s)
}
