package sources

import (
	"fmt"
	"sort"
	"strings"

	"github.com/JakeFAU/econ-series-crawler/internal/crawler"
)

// aliases maps alternative normalised names onto registry keys.
var aliases = map[string]string{
	"federalreserveeconomicdata": "fred",
	"stlouisfed":                 "fred",
	"bureauoflaborstatistics":    "bls",
	"bureauofeconomicanalysis":   "bea",
	"uscensusbureau":             "census",
	"europeancentralbank":        "ecb",
	"bankofengland":              "boe",
	"bankofjapan":                "boj",
	"internationalmonetaryfund":  "imf",
	"worldtradeorganization":     "wto",
}

// Registry maps source names to adapters. It is built once at startup and
// read concurrently afterwards.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func registryKey(name string) string {
	key := crawler.NormalizeSourceName(name)
	if alias, ok := aliases[key]; ok {
		return alias
	}
	return key
}

// Register adds an adapter under its Name().
func (r *Registry) Register(a Adapter) {
	r.adapters[registryKey(a.Name())] = a
}

// Lookup returns the adapter for name regardless of configuration.
func (r *Registry) Lookup(name string) (Adapter, error) {
	a, ok := r.adapters[registryKey(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, strings.TrimSpace(name))
	}
	return a, nil
}

// Fetcher returns a fetch-ready adapter. Adapters missing credentials yield
// ErrSourceNotConfigured.
func (r *Registry) Fetcher(name string) (Fetcher, error) {
	a, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	if c, ok := a.(Configurable); ok && !c.Configured() {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotConfigured, a.Name())
	}
	return a, nil
}

// Discoverer returns the discovery side of an adapter.
func (r *Registry) Discoverer(name string) (Discoverer, error) {
	return r.Lookup(name)
}

// Names lists registered keys in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Config drives BuildRegistry.
type Config struct {
	// APIKeys is keyed by normalised source name (fred, bls, bea).
	APIKeys map[string]string
	// BaseURLs overrides the default provider endpoints, keyed like APIKeys.
	BaseURLs map[string]string
	// MaxSeries caps how many series a searching adapter returns; 0 means no cap.
	MaxSeries int
}

func (c Config) apiKey(name string) string {
	if c.APIKeys == nil {
		return ""
	}
	return strings.TrimSpace(c.APIKeys[registryKey(name)])
}

func (c Config) baseURL(name, fallback string) string {
	if c.BaseURLs != nil {
		if u := strings.TrimSpace(c.BaseURLs[registryKey(name)]); u != "" {
			return strings.TrimRight(u, "/")
		}
	}
	return strings.TrimRight(fallback, "/")
}

// BuildRegistry registers an adapter for every built-in source.
func BuildRegistry(cfg Config, client *Client) *Registry {
	defaults := make(map[string]string)
	for _, src := range crawler.DefaultDataSources() {
		defaults[registryKey(src.Name)] = src.BaseURL
	}
	base := func(name string) string { return cfg.baseURL(name, defaults[registryKey(name)]) }

	r := NewRegistry()
	r.Register(NewFRED(client, base("fred"), cfg.apiKey("fred"), cfg.MaxSeries))
	r.Register(NewBLS(client, base("bls"), cfg.apiKey("bls"), cfg.MaxSeries))
	r.Register(NewWorldBank(client, base("worldbank"), cfg.MaxSeries))
	r.Register(NewECB(client, base("ecb")))
	r.Register(NewCatalog("Census", censusSeries(base("census"))))
	r.Register(NewCatalog("BEA", beaSeries(base("bea"))))
	r.Register(NewCatalog("IMF", imfSeries(base("imf"))))
	r.Register(NewCatalog("OECD", oecdSeries(base("oecd"))))
	r.Register(NewCatalog("BoE", boeSeries(base("boe"))))
	r.Register(NewCatalog("WTO", wtoSeries(base("wto"))))
	r.Register(NewCatalog("BoJ", bojSeries(base("boj"))))
	r.Register(NewCatalog("FHFA", fhfaSeries(base("fhfa"))))
	return r
}
