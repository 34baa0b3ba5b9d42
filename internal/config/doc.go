// Package config provides centralized configuration management for the
// Enclava gateway, covering the REST server, the marketplace backend
// endpoint, chain access, storage and event bus drivers, and logging.
package config
