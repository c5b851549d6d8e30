// Package config loads the JSON configuration shared by the nexus binaries,
// overlays the environment variables the on-chain tooling has always used
// (RPC_URL, PACKAGE_ID, SUI_PRIVATE_KEY, ...) and fills in defaults.
package config
