// Package snapshot defines the normalized per-domain fragments produced by
// the source clients. Optional readings use pointer fields: a nil pointer is
// "no observation", never a zero sentinel.
package snapshot

import "time"

// Snapshot aggregates the domain fragments for one server at one poll time.
// Fragments refresh independently; a nil fragment means the domain was not
// observed this tick.
type Snapshot struct {
	Server  string
	Taken   time.Time
	CPU     *CPUFragment
	Memory  *MemoryFragment
	Network *NetworkFragment
	Disks   []DiskFragment
	Array   *ArrayFragment
	Parity  []ParityFragment
	Caches  []DiskFragment
	Docker  []ContainerFragment
	VMs     []VMFragment
	UPS     *UPSFragment
	Accel   *AcceleratorFragment
	GPUs    []GPUFragment
	System  *SystemFragment
}

// CPUFragment is the normalized CPU load reading.
type CPUFragment struct {
	PercentTotal *float64
	PerCore      []float64
}

// MemoryFragment is the normalized memory breakdown, byte fields in bytes
// and GiB fields pre-rounded to 2 decimals.
type MemoryFragment struct {
	TotalBytes     int64
	UsedBytes      int64
	FreeBytes      int64
	AvailableBytes int64
	SystemBytes    int64
	VMBytes        int64
	DockerBytes    int64
	TotalGiB       float64
	UsedGiB        float64
	FreeGiB        float64
	AvailableGiB   float64
	SystemGiB      float64
	VMGiB          float64
	DockerGiB      float64
	PercentUsed    float64
}

// NetworkFragment carries interface throughput counters.
type NetworkFragment struct {
	Interfaces []InterfaceStats
}

// InterfaceStats is one interface's counters.
type InterfaceStats struct {
	Name    string
	RxBytes int64
	TxBytes int64
}

// DiskFragment is one array/cache disk. Temp is nil when the disk is spun
// down or the reading is unavailable.
type DiskFragment struct {
	ID          string
	Name        string
	Device      string
	Serial      string
	SizeSectors int64
	Status      string
	Temp        *int
	FsType      string
	FsSizeKB    *float64
	FsUsedKB    *float64
	FsFreeKB    *float64
	// Smart holds raw SMART attribute values keyed by attribute id.
	Smart map[int]int64
	// SasCounters holds SAS-style health counters without numeric threshold
	// semantics, keyed by counter name.
	SasCounters map[string]int64
}

// ArrayFragment is the array-level state and capacity.
type ArrayFragment struct {
	State   string
	TotalKB *float64
	UsedKB  *float64
	FreeKB  *float64
}

// ParityFragment is one parity disk.
type ParityFragment struct {
	ID          string
	Name        string
	Device      string
	SizeSectors int64
	Status      string
	Temp        *int
}

// ContainerFragment is one Docker container.
type ContainerFragment struct {
	ID           string
	Name         string
	Image        string
	State        string
	Status       string
	AutoStart    bool
	PortMappings []string
}

// Running reports whether the container state is "running".
func (c ContainerFragment) Running() bool {
	return c.State == "running"
}

// VMFragment is one libvirt domain. VCPUs/MemoryMB come from the legacy
// scrape when GraphQL does not expose them; nil means unknown.
type VMFragment struct {
	Name     string
	UUID     string
	State    string
	VCPUs    *int
	MemoryMB *int
}

// UPSFragment is the UPS reading.
type UPSFragment struct {
	Name          string
	Status        string
	LoadPercent   *float64
	ChargePercent *float64
	RuntimeSec    *int
	NominalPowerW *int
}

// SystemFragment holds system-level info.
type SystemFragment struct {
	UptimeSeconds int64
}

// GPUFragment is one GPU-plugin reading; every metric is optional.
type GPUFragment struct {
	ID       string
	Name     string
	LoadPct  *int
	MemPct   *int
	MemUsed  *int
	MemTotal *int
	FanPct   *int
	PowerW   *int
	TempC    *int
}
