package fantasm

// Version is the release of this module. Release builds override it with
// -ldflags "-X github.com/aretw0/fantasm.Version=...".
var Version = "0.1.0-dev"
