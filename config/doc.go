// Package config loads the root Strata configuration.
//
// Configuration is resolved in three layers, later layers winning:
// built-in defaults, an optional YAML file, then environment
// variables. Environment keys are derived from the yaml tags, joined
// with underscores and upper-cased under the loader's prefix, so
// store.hot_max_age becomes STRATA_STORE_HOT_MAX_AGE.
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("strata.yaml").
//	    WithEnvPrefix("STRATA").
//	    Load()
package config
