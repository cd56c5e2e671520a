package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const vmMachinesHTML = `
<html><body><table>
<tr class="sortable">
  <td><span class="outer"><span class="inner"><a href="#">homeassistant</a></span></span></td>
  <td><span class="state">running</span></td>
  <td><a class="vcpu-4" href="#">4</a></td>
  <td>8192 MB</td>
</tr>
<tr class="sortable">
  <td><span class="outer"><span class="inner"><a href="#">win11</a></span></span></td>
  <td><span class="state">shut off</span></td>
  <td><a class="vcpu-8" href="#">8</a></td>
  <td>16384 MB</td>
</tr>
</table></body></html>`

func legacyServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login", loginHandler)
	mux.HandleFunc("/VMMachines.php", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cookie") == "" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(vmMachinesHTML))
	})
	return httptest.NewServer(mux)
}

func TestFetchVMSpecs(t *testing.T) {
	ts := legacyServer(t)
	defer ts.Close()

	src := NewLegacySource(testSession(t, ts, true), zap.NewNop())
	specs, err := src.FetchVMSpecs(context.Background())
	require.NoError(t, err)
	require.Len(t, specs, 2)

	ha := specs["homeassistant"]
	require.NotNil(t, ha.VCPUs)
	assert.Equal(t, 4, *ha.VCPUs)
	require.NotNil(t, ha.MemoryMB)
	assert.Equal(t, 8192, *ha.MemoryMB)

	win := specs["win11"]
	require.NotNil(t, win.VCPUs)
	assert.Equal(t, 8, *win.VCPUs)
}

func TestFetchVMsLegacyFallback(t *testing.T) {
	ts := legacyServer(t)
	defer ts.Close()

	src := NewLegacySource(testSession(t, ts, true), zap.NewNop())
	vms, err := src.FetchVMs(context.Background())
	require.NoError(t, err)
	require.Len(t, vms, 2)

	assert.Equal(t, "homeassistant", vms[0].Name)
	assert.Equal(t, "running", vms[0].State)
	assert.Equal(t, "win11", vms[1].Name)
	assert.Equal(t, "shut off", vms[1].State)
}

func TestLegacyWithoutCredentials(t *testing.T) {
	ts := legacyServer(t)
	defer ts.Close()

	src := NewLegacySource(testSession(t, ts, false), zap.NewNop())
	_, err := src.FetchVMSpecs(context.Background())
	assert.ErrorIs(t, err, ErrNotApplicable)
}
