package proxyconfig

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Document is the mihomo configuration written by the installer
type Document struct {
	MixedPort          int    `yaml:"mixed-port"`
	AllowLAN           bool   `yaml:"allow-lan"`
	BindAddress        string `yaml:"bind-address"`
	Mode               string `yaml:"mode"`
	LogLevel           string `yaml:"log-level"`
	IPv6               bool   `yaml:"ipv6"`
	ExternalController string `yaml:"external-controller"`
	ExternalUI         string `yaml:"external-ui,omitempty"`
	Secret             string `yaml:"secret"`
	UnifiedDelay       bool   `yaml:"unified-delay"`
	TCPConcurrent      bool   `yaml:"tcp-concurrent"`

	Profile ProfileConfig `yaml:"profile"`

	GeodataMode       bool    `yaml:"geodata-mode"`
	GeoAutoUpdate     bool    `yaml:"geo-auto-update"`
	GeoUpdateInterval int     `yaml:"geo-update-interval"`
	GeoxURL           GeoxURL `yaml:"geox-url"`

	DNS DNSConfig `yaml:"dns"`

	ProxyProviders map[string]ProxyProvider `yaml:"proxy-providers"`
	ProxyGroups    []ProxyGroup             `yaml:"proxy-groups"`
	Rules          []string                 `yaml:"rules"`
}

type ProfileConfig struct {
	StoreSelected bool `yaml:"store-selected"`
	StoreFakeIP   bool `yaml:"store-fake-ip"`
}

// GeoxURL lists the geo-data sources
type GeoxURL struct {
	GeoIP   string `yaml:"geoip"`
	GeoSite string `yaml:"geosite"`
	MMDB    string `yaml:"mmdb"`
	ASN     string `yaml:"asn"`
}

type DNSConfig struct {
	Enable            bool     `yaml:"enable"`
	IPv6              bool     `yaml:"ipv6"`
	EnhancedMode      string   `yaml:"enhanced-mode"`
	FakeIPRange       string   `yaml:"fake-ip-range"`
	DefaultNameserver []string `yaml:"default-nameserver"`
	Nameserver        []string `yaml:"nameserver"`
}

// ProxyProvider is a remote subscription of proxies
type ProxyProvider struct {
	Type        string      `yaml:"type"`
	URL         string      `yaml:"url"`
	Interval    int         `yaml:"interval"`
	Path        string      `yaml:"path"`
	HealthCheck HealthCheck `yaml:"health-check"`
}

type HealthCheck struct {
	Enable         bool   `yaml:"enable"`
	URL            string `yaml:"url"`
	Interval       int    `yaml:"interval"`
	Timeout        int    `yaml:"timeout"`
	Lazy           bool   `yaml:"lazy"`
	ExpectedStatus string `yaml:"expected-status"`
}

type ProxyGroup struct {
	Name      string   `yaml:"name"`
	Type      string   `yaml:"type"`
	Proxies   []string `yaml:"proxies,omitempty"`
	Use       []string `yaml:"use,omitempty"`
	URL       string   `yaml:"url,omitempty"`
	Interval  int      `yaml:"interval,omitempty"`
	Tolerance int      `yaml:"tolerance,omitempty"`
}

// Names used across the document
const (
	ProviderName   = "subscription"
	AutoGroupName  = "Auto"
	ProxyGroupName = "Proxy"
	HealthCheckURL = "https://www.gstatic.com/generate_204"
	header         = "# Generated by mihomo-installer. Re-run with --force-config to regenerate.\n"
)

// private and local ranges routed around the proxy
var directCIDRs = []string{
	"IP-CIDR,127.0.0.0/8,DIRECT,no-resolve",
	"IP-CIDR,10.0.0.0/8,DIRECT,no-resolve",
	"IP-CIDR,172.16.0.0/12,DIRECT,no-resolve",
	"IP-CIDR,192.168.0.0/16,DIRECT,no-resolve",
	"IP-CIDR,100.64.0.0/10,DIRECT,no-resolve",
	"IP-CIDR,169.254.0.0/16,DIRECT,no-resolve",
	"IP-CIDR6,::1/128,DIRECT,no-resolve",
	"IP-CIDR6,fc00::/7,DIRECT,no-resolve",
	"IP-CIDR6,fe80::/10,DIRECT,no-resolve",
}

// NewDocument fills the fixed template with the resolved parameters
func NewDocument(p Params) *Document {
	rules := []string{"DOMAIN-SUFFIX,local,DIRECT", "DOMAIN-SUFFIX,localhost,DIRECT"}
	rules = append(rules, directCIDRs...)
	rules = append(rules, "MATCH,"+ProxyGroupName)

	return &Document{
		MixedPort:          p.Port,
		AllowLAN:           false,
		BindAddress:        "*",
		Mode:               "rule",
		LogLevel:           "info",
		IPv6:               false,
		ExternalController: p.Controller,
		ExternalUI:         p.UIPath,
		Secret:             p.Secret,
		UnifiedDelay:       true,
		TCPConcurrent:      true,
		Profile: ProfileConfig{
			StoreSelected: true,
			StoreFakeIP:   true,
		},
		GeodataMode:       true,
		GeoAutoUpdate:     true,
		GeoUpdateInterval: p.GeoUpdateInterval,
		GeoxURL: GeoxURL{
			GeoIP:   p.GeoMirror + "/geoip.dat",
			GeoSite: p.GeoMirror + "/geosite.dat",
			MMDB:    p.GeoMirror + "/country.mmdb",
			ASN:     p.GeoMirror + "/GeoLite2-ASN.mmdb",
		},
		DNS: DNSConfig{
			Enable:            true,
			IPv6:              false,
			EnhancedMode:      "fake-ip",
			FakeIPRange:       "198.18.0.1/16",
			DefaultNameserver: []string{"223.5.5.5", "119.29.29.29"},
			Nameserver:        []string{"https://dns.alidns.com/dns-query", "https://doh.pub/dns-query"},
		},
		ProxyProviders: map[string]ProxyProvider{
			ProviderName: {
				Type:     "http",
				URL:      p.SubscriptionURL,
				Interval: 3600,
				Path:     "./proxy_providers/" + ProviderName + ".yaml",
				HealthCheck: HealthCheck{
					Enable:         true,
					URL:            HealthCheckURL,
					Interval:       300,
					Timeout:        5000,
					Lazy:           true,
					ExpectedStatus: "204",
				},
			},
		},
		ProxyGroups: []ProxyGroup{
			{
				Name:      AutoGroupName,
				Type:      "url-test",
				Use:       []string{ProviderName},
				URL:       HealthCheckURL,
				Interval:  300,
				Tolerance: 50,
			},
			{
				Name:    ProxyGroupName,
				Type:    "select",
				Proxies: []string{AutoGroupName, "DIRECT"},
				Use:     []string{ProviderName},
			},
		},
		Rules: rules,
	}
}

// Render marshals the document with two-space indentation
func (d *Document) Render() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(header)

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	return buf.Bytes(), nil
}
