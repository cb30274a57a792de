/*
Package config loads dispatcher settings from YAML or JSON files.

# Overview

Config wraps a map[string]any and provides typed accessor methods that handle
missing keys and type mismatches gracefully by returning default values.
Settings is the typed view consumed by the dispatcher, built from a Config
with FromConfig.

# Basic Usage

	settings, err := config.Load("botflow.yaml")
	if err != nil {
	    return err
	}
	d := botflow.NewDispatcher(botflow.WithSettings(settings))

# Type Coercion

Duration handles multiple input types:
  - string: parsed with time.ParseDuration ("30s", "1h30m")
  - int/float64: interpreted as seconds
*/
package config
