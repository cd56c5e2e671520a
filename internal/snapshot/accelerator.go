package snapshot

// ThrottleState is the derived thermal severity tier for a PCIe accelerator.
type ThrottleState string

const (
	ThrottleNormal       ThrottleState = "normal"
	Throttled250         ThrottleState = "throttled_250"
	Throttled125         ThrottleState = "throttled_125"
	Throttled62          ThrottleState = "throttled_62"
	ThrottleShutdownRisk ThrottleState = "shutdown_risk"
)

// Label returns the human-readable form published as sensor state.
func (t ThrottleState) Label() string {
	switch t {
	case ThrottleNormal:
		return "Normal"
	case Throttled250:
		return "Throttled (250 MHz)"
	case Throttled125:
		return "Throttled (125 MHz)"
	case Throttled62:
		return "Throttled (62.5 MHz)"
	case ThrottleShutdownRisk:
		return "Critical - Shutdown Risk"
	default:
		return string(t)
	}
}

// AcceleratorFragment holds the sidecar accelerator reading.
type AcceleratorFragment struct {
	PCIe []PCIeAccelerator
	USB  []USBAccelerator
}

// PCIeAccelerator is one apex-style PCIe device. Temperatures are in
// millidegrees as reported by sysfs; nil means unreadable.
type PCIeAccelerator struct {
	ID           string
	Device       string
	TempMilli    *int64
	TripPoint0   *int64
	TripPoint1   *int64
	TripPoint2   *int64
	ShutdownTemp *int64
	PollInterval *int64
	Throttle     ThrottleState
}

// USBAccelerator is one USB device (presence only, no thermal data).
type USBAccelerator struct {
	ID          string
	Bus         string
	Device      string
	VendorID    string
	ProductID   string
	Initialized bool
	Description string
}

// DeriveThrottleState classifies temp against the trip points in descending
// severity: shutdown first, then trip_point2, trip_point1, trip_point0.
// A nil threshold removes that tier from consideration.
func DeriveThrottleState(tempMilli int64, trip0, trip1, trip2, shutdown *int64) ThrottleState {
	if shutdown != nil && tempMilli >= *shutdown {
		return ThrottleShutdownRisk
	}
	if trip2 != nil && tempMilli >= *trip2 {
		return Throttled62
	}
	if trip1 != nil && tempMilli >= *trip1 {
		return Throttled125
	}
	if trip0 != nil && tempMilli >= *trip0 {
		return Throttled250
	}
	return ThrottleNormal
}
