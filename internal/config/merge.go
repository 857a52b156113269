package config

import (
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// mergeFromFile reads the overlay at envPath and deep-merges it over cfg, so
// an overlay only needs the keys it changes.
func mergeFromFile(cfg *BFFConfig, envPath string) error {
	envData, err := os.ReadFile(envPath)
	if err != nil {
		return fmt.Errorf("failed to read env config: %w", err)
	}

	baseData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal base config: %w", err)
	}

	var baseValue map[string]interface{}
	if err := yaml.Unmarshal(baseData, &baseValue); err != nil {
		return fmt.Errorf("failed to parse base config: %w", err)
	}

	var envValue map[string]interface{}
	if err := yaml.Unmarshal(envData, &envValue); err != nil {
		return fmt.Errorf("failed to parse env config: %w", err)
	}

	mergedData, err := yaml.Marshal(deepMerge(baseValue, envValue))
	if err != nil {
		return fmt.Errorf("failed to marshal merged config: %w", err)
	}

	var merged BFFConfig
	if err := yaml.Unmarshal(mergedData, &merged); err != nil {
		return fmt.Errorf("failed to parse merged config: %w", err)
	}
	*cfg = merged
	return nil
}

func deepMerge(base, overlay map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range overlay {
		if baseVal, ok := result[k]; ok {
			baseMap, baseIsMap := baseVal.(map[string]interface{})
			overlayMap, overlayIsMap := v.(map[string]interface{})
			if baseIsMap && overlayIsMap {
				result[k] = deepMerge(baseMap, overlayMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// originOf reduces a URL to scheme://host for CORS comparisons.
func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	return u.Scheme + "://" + u.Host
}
