package mobile

import (
	"fmt"

	"github.com/SebastienMelki/appgate/sdk/mobile/internal/attribution"
)

// parseConfig unmarshals a JSON string into a validated Config.
func parseConfig(jsonStr string) (*Config, error) {
	return configFromJSON(jsonStr)
}

// parseConversionData unmarshals the attribution SDK's conversion payload.
func parseConversionData(jsonStr string) (attribution.ConversionData, error) {
	if jsonStr == "" {
		return nil, fmt.Errorf("conversion data JSON is empty")
	}
	return attribution.Parse(jsonStr)
}
