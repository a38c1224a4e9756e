package systemd

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"
)

type UnitStatus struct {
	Name        string // The primary unit name as string
	LoadState   string // The load state (i.e. whether the unit file has been loaded successfully)
	ActiveState string // The active state (i.e. whether the unit is currently started or not)
	SubState    string // The sub state (a more fine-grained version of the active state that is specific to the unit type, which the active state is not)
}

type Manager struct {
	conn *dbus.Conn
}

func NewManager() (*Manager, error) {
	c, err := dbus.New()
	if err != nil {
		return nil, err
	}

	return &Manager{conn: c}, nil
}

func (m *Manager) Close() {
	m.conn.Close()
}

func (m *Manager) GetUnit(unitname string) (*UnitStatus, error) {
	raw, err := m.conn.ListUnitsByNames([]string{unitname})
	if err != nil {
		return nil, err
	}

	if len(raw) != 1 {
		return nil, fmt.Errorf("unit not found: %s", unitname)
	}

	return &UnitStatus{
		Name:        raw[0].Name,
		LoadState:   raw[0].LoadState,
		ActiveState: raw[0].ActiveState,
		SubState:    raw[0].SubState,
	}, nil
}

// StartTransientSlice starts a transient slice unit with the given properties.
// If the slice is already active, its properties are updated in place.
func (m *Manager) StartTransientSlice(ctx context.Context, unitname string, props ...dbus.Property) error {
	if !strings.HasSuffix(unitname, ".slice") {
		return fmt.Errorf("not a slice unit: %s", unitname)
	}

	if unit, err := m.GetUnit(unitname); err == nil && unit.ActiveState == "active" {
		return m.conn.SetUnitProperties(unitname, true, props...)
	}

	ch := make(chan string, 1)

	allProps := append([]dbus.Property{PropDescription(unitname)}, props...)

	if _, err := m.conn.StartTransientUnit(unitname, "replace", allProps, ch); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("activation of %s: %w", unitname, ctx.Err())
	case res := <-ch:
		if res != "done" {
			return fmt.Errorf("activation of %s: job result = %s", unitname, res)
		}
	}

	return nil
}

// GetControlGroup returns the control group path of the unit relative
// to the root of the cgroup hierarchy (e.g. "/unikcache-build.slice").
func (m *Manager) GetControlGroup(unitname string) (string, error) {
	unitType := unitTypeOf(unitname)

	p, err := m.conn.GetUnitTypeProperty(unitname, unitType, "ControlGroup")
	if err != nil {
		return "", err
	}

	cg, ok := p.Value.Value().(string)
	if !ok {
		return "", fmt.Errorf("unexpected type of ControlGroup property: %T", p.Value.Value())
	}

	if len(cg) == 0 {
		return "", fmt.Errorf("unit is not realized: %s", unitname)
	}

	return cg, nil
}

// unitTypeOf returns the D-Bus interface suffix of the unit
// (e.g. "Slice" for "foo.slice").
func unitTypeOf(unitname string) string {
	idx := strings.LastIndex(unitname, ".")
	if idx == -1 || idx == len(unitname)-1 {
		return "Service"
	}

	suffix := unitname[idx+1:]

	return strings.ToUpper(suffix[:1]) + suffix[1:]
}
