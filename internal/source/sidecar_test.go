package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unraid-agent/internal/snapshot"
)

const memoryJSON = `{
  "timestamp": 1700000000,
  "version": "1.2",
  "memory": {
    "total": 33566425088, "total_gib": 31.26,
    "used": 16655417344, "used_gib": 15.51,
    "free": 4294967296, "free_gib": 4.0,
    "available": 12884901888,
    "buffers": 102400, "cached": 204800,
    "system": 2147483648, "system_gib": 2.0,
    "vm": 8589934592, "vm_gib": 8.0,
    "docker": 4294967296, "docker_gib": 4.0,
    "percent_used": 49.62
  }
}`

const coralJSON = `{
  "pcie": [{
    "id": "apex_0", "device": "/dev/apex_0", "available": true,
    "temp": 96000, "temp_c": 96.0,
    "trip_point0": 85000, "trip_point1": 90000, "trip_point2": 95000,
    "shutdown_temp": 100000, "poll_interval": 5000,
    "throttle_state": "normal"
  }],
  "usb": [{
    "id": "usb_coral_0", "bus": "002", "device": "004",
    "vendor_id": "18d1", "product_id": "9302",
    "initialized": true, "description": "Ready for inference"
  }],
  "summary": {"total_devices": 2, "pcie_count": 1, "usb_count": 1},
  "timestamp": 1700000000, "version": "1.0"
}`

func sidecarServer(t *testing.T, memPath, coralPath string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login", loginHandler)
	if memPath != "" {
		mux.HandleFunc(memPath, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(memoryJSON))
		})
	}
	if coralPath != "" {
		mux.HandleFunc(coralPath, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(coralJSON))
		})
	}
	return httptest.NewServer(mux)
}

func TestFetchMemoryProbesEndpoints(t *testing.T) {
	// Serve only on the second candidate path; the probe must find it.
	ts := sidecarServer(t, MemoryEndpointPaths[1], "")
	defer ts.Close()

	src := NewSidecarSource(testSession(t, ts, true), zap.NewNop())
	frag, err := src.FetchMemory(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(33566425088), frag.TotalBytes)
	assert.Equal(t, 31.26, frag.TotalGiB)
	assert.Equal(t, 15.51, frag.UsedGiB)
	assert.Equal(t, 49.62, frag.PercentUsed)
	// available_gib not served: derived from bytes with 2-decimal rounding.
	assert.Equal(t, 12.0, frag.AvailableGiB)
}

func TestFetchMemoryNoEndpoint(t *testing.T) {
	ts := sidecarServer(t, "", "")
	defer ts.Close()

	src := NewSidecarSource(testSession(t, ts, true), zap.NewNop())
	_, err := src.FetchMemory(context.Background())
	assert.ErrorIs(t, err, ErrNotApplicable)

	// The probe result is cached; a second call must not re-probe.
	_, err = src.FetchMemory(context.Background())
	assert.ErrorIs(t, err, ErrNotApplicable)
}

func TestFetchMemoryWithoutCredentials(t *testing.T) {
	ts := sidecarServer(t, MemoryEndpointPaths[0], "")
	defer ts.Close()

	src := NewSidecarSource(testSession(t, ts, false), zap.NewNop())
	_, err := src.FetchMemory(context.Background())
	assert.ErrorIs(t, err, ErrNotApplicable)
}

func TestFetchAccelerators(t *testing.T) {
	ts := sidecarServer(t, "", AcceleratorEndpointPaths[0])
	defer ts.Close()

	src := NewSidecarSource(testSession(t, ts, true), zap.NewNop())
	frag, err := src.FetchAccelerators(context.Background())
	require.NoError(t, err)

	require.Len(t, frag.PCIe, 1)
	dev := frag.PCIe[0]
	assert.Equal(t, "apex_0", dev.ID)
	// 96000 with trip_point2=95000 and shutdown=100000: locally re-derived
	// to throttled_62 even though the sidecar claimed "normal".
	assert.Equal(t, snapshot.Throttled62, dev.Throttle)

	require.Len(t, frag.USB, 1)
	assert.Equal(t, "usb_coral_0", frag.USB[0].ID)
	assert.True(t, frag.USB[0].Initialized)
}
