package expander

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/KevinKickass/PortExtender/internal/types"
	"gopkg.in/yaml.v3"
)

//go:embed chips.yaml
var chipsYAML []byte

type ChipInfo struct {
	ID                types.ICType `yaml:"id" json:"id"`
	Vendor            string       `yaml:"vendor" json:"vendor"`
	Description       string       `yaml:"description" json:"description"`
	PortWidth         int          `yaml:"port_width" json:"port_width"`
	AddressStart      uint8        `yaml:"address_start" json:"address_start"`
	AddressEnd        uint8        `yaml:"address_end" json:"address_end"`
	DirectionRegister bool         `yaml:"direction_register" json:"direction_register"`
	SinkCurrentMA     int          `yaml:"sink_current_ma" json:"sink_current_ma"`
}

var (
	catalog     []ChipInfo
	catalogErr  error
	catalogOnce sync.Once
)

// Catalog returns the supported chip families.
func Catalog() ([]ChipInfo, error) {
	catalogOnce.Do(func() {
		catalog, catalogErr = parseCatalog(chipsYAML)
	})
	if catalogErr != nil {
		return nil, catalogErr
	}
	return append([]ChipInfo(nil), catalog...), nil
}

func parseCatalog(data []byte) ([]ChipInfo, error) {
	var doc struct {
		Chips []ChipInfo `yaml:"chips"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse chip catalog: %w", err)
	}

	for _, c := range doc.Chips {
		if c.PortWidth != c.ID.PortWidth() {
			return nil, fmt.Errorf("chip catalog: %s declares %d pins, driver expects %d",
				c.ID, c.PortWidth, c.ID.PortWidth())
		}
		if c.AddressStart > c.AddressEnd {
			return nil, fmt.Errorf("chip catalog: %s has an empty address range", c.ID)
		}
	}
	return doc.Chips, nil
}
