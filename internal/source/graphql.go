package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/machinebox/graphql"
	"go.uber.org/zap"

	"github.com/unraid-agent/internal/session"
	"github.com/unraid-agent/internal/snapshot"
)

const graphqlTimeout = 30 * time.Second

// GraphQLSource queries the server's GraphQL endpoint with the configured
// API key. It is the preferred transport for every domain that the schema
// exposes.
type GraphQLSource struct {
	sess    *session.Session
	client  *graphql.Client
	enabled bool
	log     *zap.Logger
}

// NewGraphQLSource builds the GraphQL client for one server. enabled=false
// (top-level graphql_enabled flag off, or no API key) turns every call into
// ErrNotApplicable.
func NewGraphQLSource(sess *session.Session, enabled bool, log *zap.Logger) *GraphQLSource {
	return &GraphQLSource{
		sess:    sess,
		client:  graphql.NewClient(sess.GraphQLURL(), graphql.WithHTTPClient(sess.HTTPClient())),
		enabled: enabled && sess.APIKey() != "",
		log:     log,
	}
}

// run executes one query, translating credential-class responses into
// session.AuthError so the chain can degrade the transport.
func (g *GraphQLSource) run(ctx context.Context, query string, out any) error {
	if !g.enabled || g.sess.GraphQLDegraded() {
		return ErrNotApplicable
	}

	ctx, cancel := context.WithTimeout(ctx, graphqlTimeout)
	defer cancel()

	req := graphql.NewRequest(query)
	req.Header.Set("x-api-key", g.sess.APIKey())

	if err := g.client.Run(ctx, req, out); err != nil {
		if isCredentialError(err) {
			return &session.AuthError{Server: g.sess.Name(), Transport: TransportGraphQL, Err: err}
		}
		return fmt.Errorf("graphql query: %w", err)
	}
	return nil
}

// isCredentialError distinguishes rejected credentials from transient
// transport failures. The GraphQL library surfaces HTTP status in the error
// string, and the API reports bad keys as Unauthorized graphql errors.
func isCredentialError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"401", "403", "unauthorized", "forbidden", "invalid api key"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

const arrayQuery = `
query {
  array {
    state
    capacity { kilobytes { free used total } }
    parities { id name device size status temp }
    disks { id name device size status temp fsType fsSize fsUsed fsFree }
    caches { id name device size status temp fsType fsSize fsUsed fsFree }
  }
}`

type gqlDisk struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Device string     `json:"device"`
	Size   FlexInt    `json:"size"`
	Status string     `json:"status"`
	Temp   *FlexInt   `json:"temp"`
	FsType string     `json:"fsType"`
	FsSize *FlexFloat `json:"fsSize"`
	FsUsed *FlexFloat `json:"fsUsed"`
	FsFree *FlexFloat `json:"fsFree"`
}

type arrayResponse struct {
	Array struct {
		State    string `json:"state"`
		Capacity struct {
			Kilobytes struct {
				Free  *FlexFloat `json:"free"`
				Used  *FlexFloat `json:"used"`
				Total *FlexFloat `json:"total"`
			} `json:"kilobytes"`
		} `json:"capacity"`
		Parities []gqlDisk `json:"parities"`
		Disks    []gqlDisk `json:"disks"`
		Caches   []gqlDisk `json:"caches"`
	} `json:"array"`
}

// FetchArray returns the array fragment plus parity, data and cache disks.
func (g *GraphQLSource) FetchArray(ctx context.Context) (*snapshot.ArrayFragment, []snapshot.ParityFragment, []snapshot.DiskFragment, []snapshot.DiskFragment, error) {
	var resp arrayResponse
	if err := g.run(ctx, arrayQuery, &resp); err != nil {
		return nil, nil, nil, nil, err
	}

	a := resp.Array
	if a.State == "" {
		return nil, nil, nil, nil, fmt.Errorf("graphql: empty array response")
	}

	frag := &snapshot.ArrayFragment{
		State:   a.State,
		TotalKB: flexFloatPtr(a.Capacity.Kilobytes.Total),
		UsedKB:  flexFloatPtr(a.Capacity.Kilobytes.Used),
		FreeKB:  flexFloatPtr(a.Capacity.Kilobytes.Free),
	}

	parities := make([]snapshot.ParityFragment, 0, len(a.Parities))
	for _, p := range a.Parities {
		parities = append(parities, snapshot.ParityFragment{
			ID:          p.ID,
			Name:        p.Name,
			Device:      p.Device,
			SizeSectors: int64(p.Size),
			Status:      p.Status,
			Temp:        flexTempPtr(p.Temp),
		})
	}

	return frag, parities, normalizeDisks(a.Disks), normalizeDisks(a.Caches), nil
}

func normalizeDisks(in []gqlDisk) []snapshot.DiskFragment {
	out := make([]snapshot.DiskFragment, 0, len(in))
	for _, d := range in {
		out = append(out, snapshot.DiskFragment{
			ID:          d.ID,
			Name:        d.Name,
			Device:      d.Device,
			SizeSectors: int64(d.Size),
			Status:      d.Status,
			Temp:        flexTempPtr(d.Temp),
			FsType:      d.FsType,
			FsSizeKB:    flexFloatPtr(d.FsSize),
			FsUsedKB:    flexFloatPtr(d.FsUsed),
			FsFreeKB:    flexFloatPtr(d.FsFree),
		})
	}
	return out
}

const dockerQuery = `
query {
  docker {
    containers {
      id names image state status autoStart
      ports { ip privatePort publicPort type }
    }
  }
}`

type dockerResponse struct {
	Docker struct {
		Containers []struct {
			ID        string   `json:"id"`
			Names     []string `json:"names"`
			Image     string   `json:"image"`
			State     string   `json:"state"`
			Status    string   `json:"status"`
			AutoStart bool     `json:"autoStart"`
			Ports     []struct {
				IP          string  `json:"ip"`
				PrivatePort FlexInt `json:"privatePort"`
				PublicPort  FlexInt `json:"publicPort"`
				Type        string  `json:"type"`
			} `json:"ports"`
		} `json:"containers"`
	} `json:"docker"`
}

// FetchContainers returns the Docker container fragments.
func (g *GraphQLSource) FetchContainers(ctx context.Context) ([]snapshot.ContainerFragment, error) {
	var resp dockerResponse
	if err := g.run(ctx, dockerQuery, &resp); err != nil {
		return nil, err
	}

	out := make([]snapshot.ContainerFragment, 0, len(resp.Docker.Containers))
	for _, c := range resp.Docker.Containers {
		if len(c.Names) == 0 {
			continue
		}
		name := strings.TrimPrefix(c.Names[0], "/")

		var mappings []string
		for _, p := range c.Ports {
			if p.PrivatePort > 0 && p.PublicPort > 0 {
				typ := p.Type
				if typ == "" {
					typ = "tcp"
				}
				mappings = append(mappings, fmt.Sprintf("%d:%d/%s", p.PublicPort, p.PrivatePort, typ))
			}
		}

		id := c.ID
		if len(id) > 12 {
			id = id[:12]
		}
		out = append(out, snapshot.ContainerFragment{
			ID:           id,
			Name:         name,
			Image:        c.Image,
			State:        strings.ToLower(c.State),
			Status:       c.Status,
			AutoStart:    c.AutoStart,
			PortMappings: mappings,
		})
	}
	return out, nil
}

const vmsQuery = `
query {
  vms {
    id
    domains { id uuid name state }
  }
}`

type vmsResponse struct {
	VMs struct {
		ID      string `json:"id"`
		Domains []struct {
			ID    string `json:"id"`
			UUID  string `json:"uuid"`
			Name  string `json:"name"`
			State string `json:"state"`
		} `json:"domains"`
	} `json:"vms"`
}

// FetchVMs returns the VM fragments without resource specs; the legacy
// scrape fills vCPU/memory in when available.
func (g *GraphQLSource) FetchVMs(ctx context.Context) ([]snapshot.VMFragment, error) {
	var resp vmsResponse
	if err := g.run(ctx, vmsQuery, &resp); err != nil {
		return nil, err
	}

	out := make([]snapshot.VMFragment, 0, len(resp.VMs.Domains))
	for _, d := range resp.VMs.Domains {
		if d.Name == "" {
			continue
		}
		out = append(out, snapshot.VMFragment{
			Name:  d.Name,
			UUID:  d.UUID,
			State: strings.ToLower(d.State),
		})
	}
	return out, nil
}

const upsQuery = `
query {
  upsDevices {
    id name status
    battery { chargeLevel estimatedRuntime }
    power { loadPercentage nominalPower }
  }
}`

type upsResponse struct {
	UPSDevices []struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Status  string `json:"status"`
		Battery struct {
			ChargeLevel      *FlexFloat `json:"chargeLevel"`
			EstimatedRuntime *FlexInt   `json:"estimatedRuntime"`
		} `json:"battery"`
		Power struct {
			LoadPercentage *FlexFloat `json:"loadPercentage"`
			NominalPower   *FlexInt   `json:"nominalPower"`
		} `json:"power"`
	} `json:"upsDevices"`
}

// FetchUPS returns the first UPS device's fragment, or nil when no UPS is
// attached (not an error).
func (g *GraphQLSource) FetchUPS(ctx context.Context) (*snapshot.UPSFragment, error) {
	var resp upsResponse
	if err := g.run(ctx, upsQuery, &resp); err != nil {
		return nil, err
	}
	if len(resp.UPSDevices) == 0 {
		return nil, nil
	}

	u := resp.UPSDevices[0]
	frag := &snapshot.UPSFragment{Name: u.Name, Status: u.Status}
	if v := u.Battery.ChargeLevel; v != nil {
		f := float64(*v)
		frag.ChargePercent = &f
	}
	if v := u.Battery.EstimatedRuntime; v != nil {
		n := int(*v)
		frag.RuntimeSec = &n
	}
	if v := u.Power.LoadPercentage; v != nil {
		f := float64(*v)
		frag.LoadPercent = &f
	}
	if v := u.Power.NominalPower; v != nil {
		n := int(*v)
		frag.NominalPowerW = &n
	}
	return frag, nil
}

const cpuQuery = `
query {
  metrics {
    cpu { percentTotal cpus { percentTotal } }
  }
}`

type cpuResponse struct {
	Metrics struct {
		CPU struct {
			PercentTotal *FlexFloat `json:"percentTotal"`
			CPUs         []struct {
				PercentTotal *FlexFloat `json:"percentTotal"`
			} `json:"cpus"`
		} `json:"cpu"`
	} `json:"metrics"`
}

// FetchCPU returns the CPU load fragment. Absent readings stay nil.
func (g *GraphQLSource) FetchCPU(ctx context.Context) (*snapshot.CPUFragment, error) {
	var resp cpuResponse
	if err := g.run(ctx, cpuQuery, &resp); err != nil {
		return nil, err
	}

	frag := &snapshot.CPUFragment{}
	if v := resp.Metrics.CPU.PercentTotal; v != nil {
		f := float64(*v)
		frag.PercentTotal = &f
	}
	for _, core := range resp.Metrics.CPU.CPUs {
		if core.PercentTotal != nil {
			frag.PerCore = append(frag.PerCore, float64(*core.PercentTotal))
		}
	}
	if frag.PercentTotal == nil && len(frag.PerCore) == 0 {
		return nil, fmt.Errorf("graphql: cpu metrics absent")
	}
	return frag, nil
}

const systemQuery = `
query {
  info {
    os { uptime }
  }
}`

type systemResponse struct {
	Info struct {
		OS struct {
			Uptime string `json:"uptime"`
		} `json:"os"`
	} `json:"info"`
}

// FetchSystem returns the system fragment. The API reports uptime as the
// RFC3339 boot timestamp; it is converted to seconds since boot.
func (g *GraphQLSource) FetchSystem(ctx context.Context) (*snapshot.SystemFragment, error) {
	var resp systemResponse
	if err := g.run(ctx, systemQuery, &resp); err != nil {
		return nil, err
	}
	if resp.Info.OS.Uptime == "" {
		return nil, fmt.Errorf("graphql: uptime absent")
	}

	boot, err := time.Parse(time.RFC3339, resp.Info.OS.Uptime)
	if err != nil {
		return nil, fmt.Errorf("graphql: parse uptime %q: %w", resp.Info.OS.Uptime, err)
	}
	secs := int64(time.Since(boot).Seconds())
	if secs < 0 {
		return nil, fmt.Errorf("graphql: boot time in the future: %s", resp.Info.OS.Uptime)
	}
	return &snapshot.SystemFragment{UptimeSeconds: secs}, nil
}

const smartQuery = `
query {
  disks {
    device name serialNum smartStatus
    attributes { id name rawValue }
  }
}`

type smartResponse struct {
	Disks []struct {
		Device      string `json:"device"`
		Name        string `json:"name"`
		SerialNum   string `json:"serialNum"`
		SmartStatus string `json:"smartStatus"`
		Attributes  []struct {
			ID       *FlexInt `json:"id"`
			Name     string   `json:"name"`
			RawValue FlexInt  `json:"rawValue"`
		} `json:"attributes"`
	} `json:"disks"`
}

// FetchSmart returns per-disk SMART health data for the alert engine.
// Numeric attribute ids go into Smart; attributes without an id (SAS-style
// counters) go into SasCounters keyed by name.
func (g *GraphQLSource) FetchSmart(ctx context.Context) ([]snapshot.DiskFragment, error) {
	var resp smartResponse
	if err := g.run(ctx, smartQuery, &resp); err != nil {
		return nil, err
	}

	out := make([]snapshot.DiskFragment, 0, len(resp.Disks))
	for _, d := range resp.Disks {
		frag := snapshot.DiskFragment{
			Name:   d.Name,
			Device: d.Device,
			Serial: d.SerialNum,
			Status: d.SmartStatus,
		}
		for _, a := range d.Attributes {
			if a.ID != nil {
				if frag.Smart == nil {
					frag.Smart = map[int]int64{}
				}
				frag.Smart[int(*a.ID)] = int64(a.RawValue)
			} else if a.Name != "" {
				if frag.SasCounters == nil {
					frag.SasCounters = map[string]int64{}
				}
				frag.SasCounters[a.Name] = int64(a.RawValue)
			}
		}
		out = append(out, frag)
	}
	return out, nil
}

func flexFloatPtr(f *FlexFloat) *float64 {
	if f == nil {
		return nil
	}
	v := float64(*f)
	return &v
}

// flexTempPtr filters unreadable temperatures: spun-down disks report 0 or
// negative, which must map to absence, not a zero reading.
func flexTempPtr(f *FlexInt) *int {
	if f == nil || *f <= 0 {
		return nil
	}
	v := int(*f)
	return &v
}
