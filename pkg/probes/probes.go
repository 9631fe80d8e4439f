package probes

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/wardenhq/warden/pkg/config"
	"github.com/wardenhq/warden/pkg/storage"
	"github.com/wardenhq/warden/pkg/types"
)

// Prober checks one external dependency and reports a pass/warn/fail
// Check with latency.
type Prober interface {
	Name() string
	Probe(ctx context.Context) types.Check
}

// HTTPProbe checks a dependency over HTTP. A response outside 200-399
// fails the check; a slow response warns.
type HTTPProbe struct {
	name      string
	url       string
	warnAfter time.Duration
	client    *http.Client
}

// NewHTTPProbe creates an HTTP dependency probe
func NewHTTPProbe(name, url string, warnAfter, timeout time.Duration) *HTTPProbe {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProbe{
		name:      name,
		url:       url,
		warnAfter: warnAfter,
		client:    &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProbe) Name() string { return p.name }

// Probe performs the HTTP check
func (p *HTTPProbe) Probe(ctx context.Context) types.Check {
	start := time.Now()
	check := types.Check{Name: p.name, CheckedAt: start}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		check.Result = types.CheckFail
		check.Message = fmt.Sprintf("failed to create request: %v", err)
		check.Latency = time.Since(start)
		return check
	}

	resp, err := p.client.Do(req)
	if err != nil {
		check.Result = types.CheckFail
		check.Message = fmt.Sprintf("request failed: %v", err)
		check.Latency = time.Since(start)
		return check
	}
	defer resp.Body.Close()

	check.Latency = time.Since(start)
	switch {
	case resp.StatusCode < 200 || resp.StatusCode > 399:
		check.Result = types.CheckFail
		check.Message = fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	case p.warnAfter > 0 && check.Latency > p.warnAfter:
		check.Result = types.CheckWarn
		check.Message = fmt.Sprintf("slow response: %v", check.Latency)
	default:
		check.Result = types.CheckPass
	}
	return check
}

// TCPProbe checks a dependency by opening a TCP connection
type TCPProbe struct {
	name    string
	address string
	timeout time.Duration
}

// NewTCPProbe creates a TCP dependency probe
func NewTCPProbe(name, address string, timeout time.Duration) *TCPProbe {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &TCPProbe{name: name, address: address, timeout: timeout}
}

func (p *TCPProbe) Name() string { return p.name }

// Probe performs the TCP check
func (p *TCPProbe) Probe(ctx context.Context) types.Check {
	start := time.Now()
	check := types.Check{Name: p.name, CheckedAt: start}

	dialer := &net.Dialer{Timeout: p.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.address)
	check.Latency = time.Since(start)
	if err != nil {
		check.Result = types.CheckFail
		check.Message = fmt.Sprintf("connection failed: %v", err)
		return check
	}
	conn.Close()

	check.Result = types.CheckPass
	return check
}

// StoreProbe checks the persistence collaborator by performing a read
// against the component state bucket.
type StoreProbe struct {
	name      string
	store     storage.Store
	warnAfter time.Duration
}

// NewStoreProbe creates a persistence dependency probe
func NewStoreProbe(name string, store storage.Store, warnAfter time.Duration) *StoreProbe {
	return &StoreProbe{name: name, store: store, warnAfter: warnAfter}
}

func (p *StoreProbe) Name() string { return p.name }

// Probe performs the store read check
func (p *StoreProbe) Probe(ctx context.Context) types.Check {
	start := time.Now()
	check := types.Check{Name: p.name, CheckedAt: start}

	var probe struct{}
	_, err := p.store.LoadState("probe:"+p.name, &probe)
	check.Latency = time.Since(start)
	if err != nil {
		check.Result = types.CheckFail
		check.Message = fmt.Sprintf("store read failed: %v", err)
		return check
	}
	if p.warnAfter > 0 && check.Latency > p.warnAfter {
		check.Result = types.CheckWarn
		check.Message = fmt.Sprintf("slow store read: %v", check.Latency)
		return check
	}
	check.Result = types.CheckPass
	return check
}

// FromFleet builds probes from the fleet file declarations. Unknown
// probe types fail configuration early.
func FromFleet(fleet *config.Fleet, store storage.Store) ([]Prober, error) {
	var probers []Prober
	for _, fp := range fleet.Probes {
		warn := time.Duration(fp.WarnMs) * time.Millisecond
		timeout := time.Duration(fp.Timeout) * time.Millisecond
		switch fp.Type {
		case "http":
			probers = append(probers, NewHTTPProbe(fp.Name, fp.Target, warn, timeout))
		case "tcp":
			probers = append(probers, NewTCPProbe(fp.Name, fp.Target, timeout))
		case "store":
			probers = append(probers, NewStoreProbe(fp.Name, store, warn))
		default:
			return nil, fmt.Errorf("unknown probe type %q for probe %s", fp.Type, fp.Name)
		}
	}
	return probers, nil
}
