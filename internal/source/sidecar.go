package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unraid-agent/internal/session"
	"github.com/unraid-agent/internal/snapshot"
	"github.com/unraid-agent/pkg/convert"
)

const (
	sidecarProbeTimeout = 10 * time.Second
	sidecarFetchTimeout = 30 * time.Second
)

// MemoryEndpointPaths are probed in order for the memory breakdown sidecar.
var MemoryEndpointPaths = []string{
	"/plugins/hass/memory_status.php",
	"/plugins/unraid-monitor/memory_status.php",
	"/plugins/dynamix/memory_status.php",
	"/state/memory_status.json",
}

// AcceleratorEndpointPaths are probed in order for the accelerator sidecar.
var AcceleratorEndpointPaths = []string{
	"/plugins/coral/coral_status.php",
	"/plugins/dynamix/coral_status.php",
	"/state/coral_status.json",
}

// SidecarSource fetches optional JSON endpoints deployed on the monitored
// host. The working path per endpoint set is discovered once and cached; a
// missing sidecar makes every call ErrNotApplicable, never a scan failure.
type SidecarSource struct {
	sess *session.Session
	log  *zap.Logger

	mu        sync.Mutex
	endpoints map[string]string // probe-set key -> working path ("" = none)
}

// NewSidecarSource builds the sidecar fetcher for one server.
func NewSidecarSource(sess *session.Session, log *zap.Logger) *SidecarSource {
	return &SidecarSource{
		sess:      sess,
		log:       log,
		endpoints: map[string]string{},
	}
}

func (s *SidecarSource) fetchJSON(ctx context.Context, path string, timeout time.Duration, out any) error {
	cookie, err := s.sess.Cookie(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.sess.BaseURL()+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Cookie", cookie)

	resp, err := s.sess.HTTPClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("GET %s: parse json: %w", path, err)
	}
	return nil
}

// discover probes candidate paths once per probe-set and caches the result.
// validate rejects endpoints that respond with the wrong JSON shape.
func (s *SidecarSource) discover(ctx context.Context, key string, candidates []string, validate func([]byte) bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ep, done := s.endpoints[key]; done {
		return ep
	}

	for _, path := range candidates {
		var raw json.RawMessage
		if err := s.fetchJSON(ctx, path, sidecarProbeTimeout, &raw); err != nil {
			s.log.Debug("sidecar endpoint probe failed",
				zap.String("server", s.sess.Name()),
				zap.String("path", path),
				zap.Error(err))
			continue
		}
		if !validate(raw) {
			continue
		}
		s.log.Info("sidecar endpoint found",
			zap.String("server", s.sess.Name()),
			zap.String("key", key),
			zap.String("path", path))
		s.endpoints[key] = path
		return path
	}

	s.log.Info("no working sidecar endpoint",
		zap.String("server", s.sess.Name()),
		zap.String("key", key))
	s.endpoints[key] = ""
	return ""
}

// memoryEnvelope is the memory sidecar's wire shape: byte-size fields
// in bytes, _gib fields pre-rounded to 2 decimals by the sidecar.
type memoryEnvelope struct {
	Timestamp int64  `json:"timestamp"`
	Version   string `json:"version"`
	Memory    *struct {
		Total        *int64   `json:"total"`
		TotalGiB     *float64 `json:"total_gib"`
		Used         *int64   `json:"used"`
		UsedGiB      *float64 `json:"used_gib"`
		Free         *int64   `json:"free"`
		FreeGiB      *float64 `json:"free_gib"`
		Available    *int64   `json:"available"`
		AvailableGiB *float64 `json:"available_gib"`
		Buffers      *int64   `json:"buffers"`
		Cached       *int64   `json:"cached"`
		System       *int64   `json:"system"`
		SystemGiB    *float64 `json:"system_gib"`
		VM           *int64   `json:"vm"`
		VMGiB        *float64 `json:"vm_gib"`
		Docker       *int64   `json:"docker"`
		DockerGiB    *float64 `json:"docker_gib"`
		PercentUsed  *float64 `json:"percent_used"`
	} `json:"memory"`
}

// FetchMemory returns the memory breakdown fragment from the sidecar.
// GiB values pre-rounded by the sidecar are trusted; missing ones are
// derived from the byte counts with the same 2-decimal rounding.
func (s *SidecarSource) FetchMemory(ctx context.Context) (*snapshot.MemoryFragment, error) {
	if s.sess.Config().Username == "" {
		return nil, ErrNotApplicable
	}

	path := s.discover(ctx, "memory", MemoryEndpointPaths, func(raw []byte) bool {
		var env memoryEnvelope
		return json.Unmarshal(raw, &env) == nil && env.Memory != nil
	})
	if path == "" {
		return nil, ErrNotApplicable
	}

	var env memoryEnvelope
	if err := s.fetchJSON(ctx, path, sidecarFetchTimeout, &env); err != nil {
		return nil, err
	}
	if env.Memory == nil {
		return nil, fmt.Errorf("memory sidecar: missing memory section")
	}

	m := env.Memory
	frag := &snapshot.MemoryFragment{
		TotalBytes:     deref(m.Total),
		UsedBytes:      deref(m.Used),
		FreeBytes:      deref(m.Free),
		AvailableBytes: deref(m.Available),
		SystemBytes:    deref(m.System),
		VMBytes:        deref(m.VM),
		DockerBytes:    deref(m.Docker),
	}
	frag.TotalGiB = gibOr(m.TotalGiB, frag.TotalBytes)
	frag.UsedGiB = gibOr(m.UsedGiB, frag.UsedBytes)
	frag.FreeGiB = gibOr(m.FreeGiB, frag.FreeBytes)
	frag.AvailableGiB = gibOr(m.AvailableGiB, frag.AvailableBytes)
	frag.SystemGiB = gibOr(m.SystemGiB, frag.SystemBytes)
	frag.VMGiB = gibOr(m.VMGiB, frag.VMBytes)
	frag.DockerGiB = gibOr(m.DockerGiB, frag.DockerBytes)
	if m.PercentUsed != nil {
		frag.PercentUsed = *m.PercentUsed
	} else {
		frag.PercentUsed = convert.Percent(float64(frag.UsedBytes), float64(frag.TotalBytes))
	}

	if frag.TotalBytes <= 0 {
		return nil, fmt.Errorf("memory sidecar: total absent")
	}
	return frag, nil
}

// acceleratorEnvelope is the accelerator sidecar's wire shape.
type acceleratorEnvelope struct {
	PCIe []struct {
		ID            string   `json:"id"`
		Device        string   `json:"device"`
		Available     *bool    `json:"available"`
		Temp          *int64   `json:"temp"`
		TempC         *float64 `json:"temp_c"`
		TripPoint0    *int64   `json:"trip_point0"`
		TripPoint1    *int64   `json:"trip_point1"`
		TripPoint2    *int64   `json:"trip_point2"`
		ShutdownTemp  *int64   `json:"shutdown_temp"`
		PollInterval  *int64   `json:"poll_interval"`
		ThrottleState string   `json:"throttle_state"`
	} `json:"pcie"`
	USB []struct {
		ID          string `json:"id"`
		Bus         string `json:"bus"`
		Device      string `json:"device"`
		VendorID    string `json:"vendor_id"`
		ProductID   string `json:"product_id"`
		Initialized bool   `json:"initialized"`
		Description string `json:"description"`
	} `json:"usb"`
	Summary *struct {
		TotalDevices int `json:"total_devices"`
		PCIeCount    int `json:"pcie_count"`
		USBCount     int `json:"usb_count"`
	} `json:"summary"`
	Timestamp int64  `json:"timestamp"`
	Version   string `json:"version"`
}

// FetchAccelerators returns the accelerator fragment. The throttle state is
// always re-derived locally from the trip points; the sidecar's own
// throttle_state field is used only when thresholds are absent.
func (s *SidecarSource) FetchAccelerators(ctx context.Context) (*snapshot.AcceleratorFragment, error) {
	if s.sess.Config().Username == "" {
		return nil, ErrNotApplicable
	}

	path := s.discover(ctx, "accelerator", AcceleratorEndpointPaths, func(raw []byte) bool {
		var env acceleratorEnvelope
		return json.Unmarshal(raw, &env) == nil
	})
	if path == "" {
		return nil, ErrNotApplicable
	}

	var env acceleratorEnvelope
	if err := s.fetchJSON(ctx, path, sidecarFetchTimeout, &env); err != nil {
		return nil, err
	}

	frag := &snapshot.AcceleratorFragment{}
	for _, d := range env.PCIe {
		dev := snapshot.PCIeAccelerator{
			ID:           d.ID,
			Device:       d.Device,
			TempMilli:    d.Temp,
			TripPoint0:   d.TripPoint0,
			TripPoint1:   d.TripPoint1,
			TripPoint2:   d.TripPoint2,
			ShutdownTemp: d.ShutdownTemp,
			PollInterval: d.PollInterval,
		}
		switch {
		case d.Temp != nil:
			dev.Throttle = snapshot.DeriveThrottleState(*d.Temp, d.TripPoint0, d.TripPoint1, d.TripPoint2, d.ShutdownTemp)
		case d.ThrottleState != "":
			dev.Throttle = snapshot.ThrottleState(d.ThrottleState)
		default:
			dev.Throttle = snapshot.ThrottleNormal
		}
		frag.PCIe = append(frag.PCIe, dev)
	}
	for _, d := range env.USB {
		frag.USB = append(frag.USB, snapshot.USBAccelerator{
			ID:          d.ID,
			Bus:         d.Bus,
			Device:      d.Device,
			VendorID:    d.VendorID,
			ProductID:   d.ProductID,
			Initialized: d.Initialized,
			Description: d.Description,
		})
	}
	return frag, nil
}

func deref(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func gibOr(pre *float64, bytes int64) float64 {
	if pre != nil && *pre > 0 {
		return *pre
	}
	return convert.BytesToGiB(bytes)
}
