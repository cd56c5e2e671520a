package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/unraid-agent/internal/session"
	"github.com/unraid-agent/internal/snapshot"
)

const legacyTimeout = 30 * time.Second

// LegacySource scrapes authenticated webGui endpoints for data the GraphQL
// schema does not expose, notably VM resource specs and GPU plugin stats.
type LegacySource struct {
	sess *session.Session
	log  *zap.Logger

	// gpuMap is the GPU id map discovered once from /Dashboard.
	gpuMap        map[string]any
	gpuDiscovered bool
}

// NewLegacySource builds the legacy scraper for one server.
func NewLegacySource(sess *session.Session, log *zap.Logger) *LegacySource {
	return &LegacySource{sess: sess, log: log}
}

// get issues a cookie-authenticated GET and returns the status and body.
// A 401/403 invalidates the cached cookie so the next attempt re-logs-in.
func (l *LegacySource) get(ctx context.Context, path string, query url.Values, timeout time.Duration) (int, []byte, error) {
	if l.sess.Config().Username == "" {
		return 0, nil, ErrNotApplicable
	}

	cookie, err := l.sess.Cookie(ctx)
	if err != nil {
		return 0, nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u := l.sess.BaseURL() + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Cookie", cookie)

	resp, err := l.sess.HTTPClient().Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		l.sess.InvalidateCookie()
		return resp.StatusCode, nil, &session.AuthError{Server: l.sess.Name(), Transport: TransportLegacy,
			Err: fmt.Errorf("GET %s: status %d", path, resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

var nonDigits = regexp.MustCompile(`[^\d]`)

// FetchVMSpecs scrapes /VMMachines.php for per-VM vCPU count and memory.
// Returns a map keyed by VM name.
func (l *LegacySource) FetchVMSpecs(ctx context.Context) (map[string]snapshot.VMFragment, error) {
	status, body, err := l.get(ctx, "/VMMachines.php", nil, legacyTimeout)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("VMMachines.php: status %d", status)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse VMMachines.php: %w", err)
	}

	specs := map[string]snapshot.VMFragment{}
	doc.Find(`tr[class*="sortable"]`).Each(func(_ int, row *goquery.Selection) {
		name := strings.TrimSpace(row.Find("span.inner a").First().Text())
		if name == "" {
			return
		}

		frag := snapshot.VMFragment{Name: name}

		vcpuText := strings.TrimSpace(row.Find(`a[class*="vcpu-"]`).First().Text())
		if n, err := strconv.Atoi(vcpuText); err == nil && n > 0 {
			frag.VCPUs = &n
		}

		memText := strings.TrimSpace(row.Find("td").Eq(3).Text())
		if memText != "" {
			if n, err := strconv.Atoi(nonDigits.ReplaceAllString(memText, "")); err == nil && n > 0 {
				frag.MemoryMB = &n
			}
		}

		specs[name] = frag
	})
	return specs, nil
}

// FetchVMs builds complete VM fragments from the legacy scrape alone, used
// when GraphQL is unavailable. Row state comes from the machine table's
// state cell.
func (l *LegacySource) FetchVMs(ctx context.Context) ([]snapshot.VMFragment, error) {
	status, body, err := l.get(ctx, "/VMMachines.php", nil, legacyTimeout)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("VMMachines.php: status %d", status)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse VMMachines.php: %w", err)
	}

	var out []snapshot.VMFragment
	doc.Find(`tr[class*="sortable"]`).Each(func(_ int, row *goquery.Selection) {
		name := strings.TrimSpace(row.Find("span.inner a").First().Text())
		if name == "" {
			return
		}

		frag := snapshot.VMFragment{Name: name}

		state := strings.ToLower(strings.TrimSpace(row.Find("span.state").First().Text()))
		if state == "" {
			state = "shut off"
		}
		frag.State = state

		vcpuText := strings.TrimSpace(row.Find(`a[class*="vcpu-"]`).First().Text())
		if n, err := strconv.Atoi(vcpuText); err == nil && n > 0 {
			frag.VCPUs = &n
		}
		memText := strings.TrimSpace(row.Find("td").Eq(3).Text())
		if memText != "" {
			if n, err := strconv.Atoi(nonDigits.ReplaceAllString(memText, "")); err == nil && n > 0 {
				frag.MemoryMB = &n
			}
		}

		out = append(out, frag)
	})

	if len(out) == 0 {
		return nil, fmt.Errorf("VMMachines.php: no VM rows found")
	}
	return out, nil
}

var gpuMapRe = regexp.MustCompile(`gpustat_statusm\((\{.*?\})\)`)

// discoverGPUs parses /Dashboard once for the gpustat plugin's GPU map.
func (l *LegacySource) discoverGPUs(ctx context.Context) error {
	status, body, err := l.get(ctx, "/Dashboard", nil, legacyTimeout)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("/Dashboard: status %d", status)
	}

	m := gpuMapRe.FindSubmatch(body)
	if m == nil {
		return fmt.Errorf("gpustat map not present on /Dashboard")
	}

	var gpus map[string]any
	if err := json.Unmarshal(m[1], &gpus); err != nil {
		return fmt.Errorf("parse gpustat map: %w", err)
	}
	l.gpuMap = gpus
	return nil
}

// gpuStat is the loosely-typed per-GPU payload from gpustatusmulti.php;
// values arrive as strings with unit suffixes.
type gpuStat struct {
	Name     string `json:"name"`
	Util     string `json:"util"`
	MemUtil  string `json:"memutil"`
	MemUsed  string `json:"memused"`
	MemTotal string `json:"memtotal"`
	Fan      string `json:"fan"`
	Power    string `json:"power"`
	Temp     string `json:"temp"`
}

// FetchGPUs polls the GPU Stat plugin. Invalid readings ("N/A", "Unknown")
// stay nil on the fragment.
func (l *LegacySource) FetchGPUs(ctx context.Context) ([]snapshot.GPUFragment, error) {
	if !l.gpuDiscovered {
		l.gpuDiscovered = true
		if err := l.discoverGPUs(ctx); err != nil {
			l.log.Debug("gpu plugin discovery failed",
				zap.String("server", l.sess.Name()), zap.Error(err))
		}
	}
	if len(l.gpuMap) == 0 {
		return nil, ErrNotApplicable
	}

	gpusJSON, err := json.Marshal(l.gpuMap)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("gpus", string(gpusJSON))
	status, body, err := l.get(ctx, "/plugins/gpustat/gpustatusmulti.php", q, legacyTimeout)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("gpustatusmulti.php: status %d", status)
	}

	var raw map[string]gpuStat
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse gpu stats: %w", err)
	}

	var out []snapshot.GPUFragment
	for id, g := range raw {
		name := g.Name
		if name == "" {
			name = "GPU " + id
		}
		out = append(out, snapshot.GPUFragment{
			ID:       id,
			Name:     name,
			LoadPct:  parseGPUValue(g.Util),
			MemPct:   parseGPUValue(g.MemUtil),
			MemUsed:  parseGPUValue(g.MemUsed),
			MemTotal: parseGPUValue(g.MemTotal),
			FanPct:   parseGPUValue(g.Fan),
			PowerW:   parseGPUValue(g.Power),
			TempC:    parseGPUValue(g.Temp),
		})
	}
	return out, nil
}

// parseGPUValue strips unit suffixes and rejects the plugin's placeholder
// strings; nil means no valid reading.
func parseGPUValue(s string) *int {
	cleaned := strings.TrimSpace(s)
	switch cleaned {
	case "", "N/A", "N\\/A", "Unknown", "unknown":
		return nil
	}
	for _, suffix := range []string{"%", "°C", "W"} {
		cleaned = strings.ReplaceAll(cleaned, suffix, "")
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(cleaned), 64)
	if err != nil {
		return nil
	}
	n := int(f)
	return &n
}
