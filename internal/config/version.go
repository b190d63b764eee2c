package config

// Version is the contractdesk-rt binary version.
// Set at build time via: -ldflags "-X github.com/contractdesk/realtime/internal/config.Version=<tag>"
// Defaults to "dev" when built without ldflags.
var Version = "dev"
