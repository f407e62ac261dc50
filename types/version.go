package types

// Version is the canonical project version.
// The CLI and the capture stream format share this version.
const Version = "0.1.0"

// StreamVersion is the capture stream format version written into every
// stream header. Readers reject streams with a different major version.
const StreamVersion = Version
