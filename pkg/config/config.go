package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	*Log       `json:"log,omitempty" yaml:"log,omitempty"`
	Simulation *Simulation `json:"simulation,omitempty" yaml:"simulation,omitempty"`
	API        *API        `json:"api,omitempty" yaml:"api,omitempty"`
	Filters    []Filter    `json:"filters,omitempty" yaml:"filters,omitempty"`
	Network    *Network    `json:"network,omitempty" yaml:"network,omitempty"`
	Routers    []Router    `json:"routers" yaml:"routers"`
	Routes     []Route     `json:"routes,omitempty" yaml:"routes,omitempty"`
}

type Log struct {
	Level int    `json:"level" yaml:"level"`
	Out   string `json:"out,omitempty" yaml:"out,omitempty"`
}

type Simulation struct {
	Scheduler string    `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`
	Overflow  string    `json:"overflow,omitempty" yaml:"overflow,omitempty"`
	Until     Duration  `json:"until,omitempty" yaml:"until,omitempty"`
	MaxEvents int       `json:"max-events,omitempty" yaml:"max-events,omitempty"`
	Decision  *Decision `json:"decision,omitempty" yaml:"decision,omitempty"`
}

type Decision struct {
	Steps            []string `json:"steps,omitempty" yaml:"steps,omitempty"`
	AlwaysCompareMED bool     `json:"always-compare-med,omitempty" yaml:"always-compare-med,omitempty"`
}

type API struct {
	Host string `json:"host,omitempty" yaml:"host,omitempty"`
	Port int    `json:"port,omitempty" yaml:"port,omitempty"`
	// Metrics is the address serving prometheus metrics. Empty disables it.
	Metrics string `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

type Filter struct {
	Name    string `json:"name" yaml:"name"`
	Default string `json:"default,omitempty" yaml:"default,omitempty"`
	Rules   []Rule `json:"rules,omitempty" yaml:"rules,omitempty"`
}

type Rule struct {
	Match  string `json:"match" yaml:"match"`
	Action string `json:"action" yaml:"action"`
}

type Network struct {
	Links    []Link        `json:"links,omitempty" yaml:"links,omitempty"`
	Prefixes []OwnedPrefix `json:"prefixes,omitempty" yaml:"prefixes,omitempty"`
}

type Link struct {
	A    string `json:"a" yaml:"a"`
	B    string `json:"b" yaml:"b"`
	Cost uint32 `json:"cost" yaml:"cost"`
}

type OwnedPrefix struct {
	Router string `json:"router" yaml:"router"`
	Prefix string `json:"prefix" yaml:"prefix"`
}

type Router struct {
	Address   string   `json:"address" yaml:"address"`
	AS        uint32   `json:"as" yaml:"as"`
	ClusterID string   `json:"cluster-id,omitempty" yaml:"cluster-id,omitempty"`
	LocalPref uint32   `json:"local-pref,omitempty" yaml:"local-pref,omitempty"`
	ASLoop    string   `json:"as-loop,omitempty" yaml:"as-loop,omitempty"`
	Networks  []string `json:"networks,omitempty" yaml:"networks,omitempty"`
	Peers     []Peer   `json:"peers,omitempty" yaml:"peers,omitempty"`
}

type Peer struct {
	Address      string   `json:"address" yaml:"address"`
	AS           uint32   `json:"as" yaml:"as"`
	Import       string   `json:"import,omitempty" yaml:"import,omitempty"`
	Export       string   `json:"export,omitempty" yaml:"export,omitempty"`
	RRClient     bool     `json:"rr-client,omitempty" yaml:"rr-client,omitempty"`
	NextHopSelf  bool     `json:"next-hop-self,omitempty" yaml:"next-hop-self,omitempty"`
	HoldTime     Duration `json:"hold-time,omitempty" yaml:"hold-time,omitempty"`
	ConnectRetry Duration `json:"connect-retry,omitempty" yaml:"connect-retry,omitempty"`
	Delay        Duration `json:"delay,omitempty" yaml:"delay,omitempty"`
	// Start defaults to true.
	Start *bool `json:"start,omitempty" yaml:"start,omitempty"`
}

func (p *Peer) AutoStart() bool {
	return p.Start == nil || *p.Start
}

// Route seeds a router with a route, either local when Peer is empty or as received from Peer.
type Route struct {
	Router      string   `json:"router" yaml:"router"`
	Peer        string   `json:"peer,omitempty" yaml:"peer,omitempty"`
	Prefix      string   `json:"prefix" yaml:"prefix"`
	ASPath      string   `json:"as-path,omitempty" yaml:"as-path,omitempty"`
	NextHop     string   `json:"next-hop,omitempty" yaml:"next-hop,omitempty"`
	LocalPref   uint32   `json:"local-pref,omitempty" yaml:"local-pref,omitempty"`
	MED         uint32   `json:"med,omitempty" yaml:"med,omitempty"`
	Origin      string   `json:"origin,omitempty" yaml:"origin,omitempty"`
	Communities []string `json:"communities,omitempty" yaml:"communities,omitempty"`
}

// Duration accepts either a time.ParseDuration string or a number of seconds.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func parseDuration(v any) (Duration, error) {
	switch value := v.(type) {
	case string:
		res, err := time.ParseDuration(value)
		if err != nil {
			return 0, err
		}
		return Duration(res), nil
	case float64:
		return Duration(value * float64(time.Second)), nil
	case int:
		return Duration(time.Duration(value) * time.Second), nil
	default:
		return 0, fmt.Errorf("invalid duration %v", v)
	}
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	res, err := parseDuration(v)
	if err != nil {
		return err
	}
	*d = res
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var v any
	if err := node.Decode(&v); err != nil {
		return err
	}
	res, err := parseDuration(v)
	if err != nil {
		return err
	}
	*d = res
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func loadConfig(data []byte, ext string) (*Config, error) {
	conf := &Config{}
	switch ext {
	case "json", "JSON":
		if err := json.Unmarshal(data, conf); err != nil {
			return nil, err
		}
	case "yaml", "yml", "YAML":
		if err := yaml.Unmarshal(data, conf); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("Invalid config file format: %s", ext)
	}
	return conf, nil
}

func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	ext := filepath.Ext(path)
	if ext == "" {
		return nil, fmt.Errorf("Invalid config file format: %s", path)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	conf, err := loadConfig(data, ext[1:])
	if err != nil {
		return nil, fmt.Errorf("Load(%s): %w", path, err)
	}
	if conf.Log == nil {
		conf.Log = &Log{
			Level: 1,
			Out:   "stdout",
		}
	}
	if conf.Simulation == nil {
		conf.Simulation = &Simulation{}
	}
	return conf, nil
}
