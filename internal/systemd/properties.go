package systemd

import (
	"math"

	"github.com/coreos/go-systemd/v22/dbus"
	godbus "github.com/godbus/dbus/v5"
)

// Value that systemd interprets as "infinity"
const unlimited = uint64(math.MaxUint64)

func PropDescription(desc string) dbus.Property {
	return dbus.PropDescription(desc)
}

// PropCPUQuota limits the CPU time in percent of one core.
// Zero removes the limit.
func PropCPUQuota(percent int64) dbus.Property {
	v := unlimited

	if percent > 0 {
		// CPUQuota=50% is 500ms of CPU time per second
		v = uint64(percent) * 10000
	}

	return dbus.Property{
		Name:  "CPUQuotaPerSecUSec",
		Value: godbus.MakeVariant(v),
	}
}

// PropMemoryMax sets the memory ceiling in bytes. Zero removes the limit.
func PropMemoryMax(limit int64) dbus.Property {
	v := unlimited

	if limit > 0 {
		v = uint64(limit)
	}

	return dbus.Property{
		Name:  "MemoryMax",
		Value: godbus.MakeVariant(v),
	}
}
