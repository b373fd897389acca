// Package registry holds the instrument directory. It is built once during
// startup from a YAML file and passed explicitly to every component that
// needs instrument configuration, so tests can substitute fixtures.
package registry

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInstrumentNotFound = errors.New("instrument not found in registry")

// Instrument describes one shared instrument: where its data lands, which
// calendar it is booked through, and the timezone its host clock runs in.
type Instrument struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name"`
	DataRoot       string   `yaml:"data_root"`
	TimeZone       string   `yaml:"timezone"`
	CalendarID     string   `yaml:"calendar_id"`
	IgnorePatterns []string `yaml:"ignore_patterns"`

	location *time.Location
}

// Location returns the instrument's timezone, defaulting to UTC.
func (i Instrument) Location() *time.Location {
	if i.location == nil {
		return time.UTC
	}
	return i.location
}

type Registry struct {
	instruments map[string]Instrument
}

type registryFile struct {
	Instruments []Instrument `yaml:"instruments"`
}

// Load reads the registry YAML file and resolves each instrument's timezone.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read instrument registry: %w", err)
	}
	return Parse(data)
}

// Parse builds a registry from raw YAML.
func Parse(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode instrument registry: %w", err)
	}
	if len(file.Instruments) == 0 {
		return nil, errors.New("instrument registry is empty")
	}

	instruments := make(map[string]Instrument, len(file.Instruments))
	for _, instrument := range file.Instruments {
		if instrument.ID == "" {
			return nil, errors.New("instrument entry is missing an id")
		}
		if instrument.DataRoot == "" {
			return nil, fmt.Errorf("instrument %s is missing a data_root", instrument.ID)
		}
		if _, exists := instruments[instrument.ID]; exists {
			return nil, fmt.Errorf("duplicate instrument id %s", instrument.ID)
		}
		if instrument.TimeZone != "" {
			location, err := time.LoadLocation(instrument.TimeZone)
			if err != nil {
				return nil, fmt.Errorf("instrument %s: resolve timezone %q: %w", instrument.ID, instrument.TimeZone, err)
			}
			instrument.location = location
		}
		instruments[instrument.ID] = instrument
	}

	return &Registry{instruments: instruments}, nil
}

// New builds a registry directly from instrument values, for tests and
// embedded setups.
func New(instruments ...Instrument) (*Registry, error) {
	payload, err := yaml.Marshal(registryFile{Instruments: instruments})
	if err != nil {
		return nil, fmt.Errorf("encode instruments: %w", err)
	}
	return Parse(payload)
}

// Lookup returns the instrument registered under id.
func (r *Registry) Lookup(id string) (Instrument, error) {
	instrument, ok := r.instruments[id]
	if !ok {
		return Instrument{}, fmt.Errorf("%w: %s", ErrInstrumentNotFound, id)
	}
	return instrument, nil
}

// All returns every registered instrument sorted by id.
func (r *Registry) All() []Instrument {
	all := make([]Instrument, 0, len(r.instruments))
	for _, instrument := range r.instruments {
		all = append(all, instrument)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}
