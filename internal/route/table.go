// Package route holds the immutable table of gateway operations.
//
// The table is built once at startup from configuration and shared
// read-only by the HTTP server, the inbound consumer and the authorizer.
package route

import (
	"fmt"
	"slices"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/vyrodovalexey/edgegw/internal/auth"
	"github.com/vyrodovalexey/edgegw/internal/config"
)

// Descriptor is one gateway operation.
type Descriptor struct {
	Name    string
	Method  string
	Path    string
	Command string
	Channel string

	// RequiredRoles is empty when any authenticated caller may proceed.
	RequiredRoles map[auth.Role]struct{}

	// Public routes skip authentication and authorization.
	Public bool

	// Async routes accept commands from the inbound queue.
	Async bool

	Timeout    time.Duration
	Predicates []string

	schema *jsonschema.Schema
}

// HasRole reports whether role satisfies the role requirement.
func (d *Descriptor) HasRole(role auth.Role) bool {
	if len(d.RequiredRoles) == 0 {
		return true
	}
	_, ok := d.RequiredRoles[role]
	return ok
}

// Roles returns the required roles in sorted order.
func (d *Descriptor) Roles() []auth.Role {
	roles := make([]auth.Role, 0, len(d.RequiredRoles))
	for r := range d.RequiredRoles {
		roles = append(roles, r)
	}
	slices.Sort(roles)
	return roles
}

// HTTP reports whether the route is served over HTTP.
func (d *Descriptor) HTTP() bool {
	return d.Path != ""
}

// Table is the set of descriptors, indexed by name and by async command.
type Table struct {
	ordered   []*Descriptor
	byName    map[string]*Descriptor
	byCommand map[string]*Descriptor
}

// NewTable builds a table from route configuration. Roles are parsed and
// schemas compiled here so that a bad route fails at startup.
func NewTable(routes []config.RouteConfig, broker *config.BrokerConfig) (*Table, error) {
	if broker == nil {
		broker = &config.BrokerConfig{RequestTimeout: config.Duration(config.DefaultRequestTimeout)}
	}

	t := &Table{
		ordered:   make([]*Descriptor, 0, len(routes)),
		byName:    make(map[string]*Descriptor, len(routes)),
		byCommand: make(map[string]*Descriptor),
	}

	for i := range routes {
		d, err := newDescriptor(&routes[i], broker)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", routes[i].Name, err)
		}
		if _, dup := t.byName[d.Name]; dup {
			return nil, fmt.Errorf("route %q: duplicate name", d.Name)
		}
		t.byName[d.Name] = d
		if d.Async {
			if _, dup := t.byCommand[d.Command]; dup {
				return nil, fmt.Errorf("route %q: duplicate async command %q", d.Name, d.Command)
			}
			t.byCommand[d.Command] = d
		}
		t.ordered = append(t.ordered, d)
	}

	return t, nil
}

func newDescriptor(rc *config.RouteConfig, broker *config.BrokerConfig) (*Descriptor, error) {
	command := rc.Command
	if command == "" {
		command = rc.Name
	}

	d := &Descriptor{
		Name:          rc.Name,
		Method:        rc.Method,
		Path:          rc.Path,
		Command:       command,
		Channel:       rc.Channel,
		RequiredRoles: make(map[auth.Role]struct{}, len(rc.Roles)),
		Public:        rc.Public,
		Async:         rc.Async,
		Timeout:       rc.TimeoutFor(broker),
		Predicates:    slices.Clone(rc.Predicates),
	}

	for _, name := range rc.Roles {
		role, err := auth.ParseRole(name)
		if err != nil {
			return nil, err
		}
		d.RequiredRoles[role] = struct{}{}
	}

	if d.Public && (d.Async || len(d.RequiredRoles) > 0 || len(d.Predicates) > 0) {
		return nil, fmt.Errorf("public routes cannot be async or declare roles or predicates")
	}

	if len(rc.Schema) > 0 {
		schema, err := compileSchema(d.Name, rc.Schema)
		if err != nil {
			return nil, err
		}
		d.schema = schema
	}

	return d, nil
}

// Lookup returns the descriptor with the given route name.
func (t *Table) Lookup(name string) (*Descriptor, bool) {
	d, ok := t.byName[name]
	return d, ok
}

// ByCommand returns the async descriptor for cmd, or ErrUnknownCommand.
func (t *Table) ByCommand(cmd string) (*Descriptor, error) {
	d, ok := t.byCommand[cmd]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
	return d, nil
}

// Descriptors returns every descriptor in configuration order.
func (t *Table) Descriptors() []*Descriptor {
	return slices.Clone(t.ordered)
}

// Len returns the number of routes.
func (t *Table) Len() int {
	return len(t.ordered)
}
