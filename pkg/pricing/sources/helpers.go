package sources

import (
	"fmt"
	"time"

	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/logging"
)

// GetLoggerFromConfig extracts the logger injected into a source config map,
// or returns a noop logger so sources never dereference nil.
func GetLoggerFromConfig(config map[string]interface{}) *logging.Logger {
	if loggerInterface, ok := config["logger"]; ok {
		if logger, ok := loggerInterface.(*logging.Logger); ok {
			return logger
		}
	}
	return logging.NewNoopLogger()
}

// GetPriorityFromConfig extracts the priority injected into a source config map.
func GetPriorityFromConfig(config map[string]interface{}) int {
	return GetIntFromConfig(config, "priority", 0)
}

// ParseNetworkAssets extracts per-network asset mappings from config.
// Expected format:
//
//	networks:
//	  ethereum:
//	    ETH: "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"
//	    BTC: "0xF4030086522a5bEEa4988F8cA5B36dbC97BeE88c"
//	  bsc:
//	    BNB: "0x0567F2323251f0Aab15c8dFb1967E4e8A7D42aeE"
func ParseNetworkAssets(config map[string]interface{}) (map[string]map[string]string, error) {
	networksRaw, ok := config["networks"]
	if !ok {
		return nil, fmt.Errorf("%w: 'networks' key", ErrInvalidConfig)
	}

	networksMap, ok := networksRaw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: networks must be a map of network to asset map", ErrInvalidConfig)
	}
	if len(networksMap) == 0 {
		return nil, fmt.Errorf("%w", ErrNoNetworksConfigured)
	}

	networks := make(map[string]map[string]string, len(networksMap))
	for network, assetsRaw := range networksMap {
		assetsMap, ok := assetsRaw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: network %s must map assets to source ids", ErrInvalidConfig, network)
		}
		if len(assetsMap) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoAssetsConfigured, network)
		}

		assets := make(map[string]string, len(assetsMap))
		for asset, idRaw := range assetsMap {
			id, ok := idRaw.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s/%s is %T, want string", ErrInvalidConfig, network, asset, idRaw)
			}
			if id == "" {
				return nil, fmt.Errorf("%w: %s/%s has empty source id", ErrInvalidConfig, network, asset)
			}
			assets[asset] = id
		}
		networks[network] = assets
	}

	return networks, nil
}

// GetStringFromConfig extracts a string value with a default.
func GetStringFromConfig(config map[string]interface{}, key, defaultVal string) string {
	if v, ok := config[key].(string); ok && v != "" {
		return v
	}
	return defaultVal
}

// GetIntFromConfig extracts an int value with a default.
// YAML decoding may deliver numbers as int, int64 or float64.
func GetIntFromConfig(config map[string]interface{}, key string, defaultVal int) int {
	switch v := config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return defaultVal
	}
}

// GetFloatFromConfig extracts a float value with a default.
func GetFloatFromConfig(config map[string]interface{}, key string, defaultVal float64) float64 {
	switch v := config[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return defaultVal
	}
}

// GetBoolFromConfig extracts a bool value with a default.
func GetBoolFromConfig(config map[string]interface{}, key string, defaultVal bool) bool {
	if v, ok := config[key].(bool); ok {
		return v
	}
	return defaultVal
}

// GetDurationFromConfig extracts a duration given as a Go duration string
// (e.g. "10s") with a default.
func GetDurationFromConfig(config map[string]interface{}, key string, defaultVal time.Duration) time.Duration {
	if v, ok := config[key].(string); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
