// Package config handles loading and validating the rules engine configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Loading an optional .env file beside the config file
//   - Overriding with GRAYLOGIC_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//     or the .env file, not committed to the YAML file
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	loc := cfg.Location()
package config
