package types

// Version is the canonical project version.
// The CLI and persisted record schema share this version under the
// lockstep versioning policy.
const Version = "0.1.0"
