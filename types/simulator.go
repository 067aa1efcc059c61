package types

// ImageInfo identifies the container image backing a simulator release.
type ImageInfo struct {
	// URL is the container registry location.
	URL string `msgpack:"url" json:"url"`
	// Digest is the immutable image digest (sha256:...).
	Digest string `msgpack:"digest" json:"digest"`
}

// SimulatorVersion is a concrete, immutable simulator identity resolved
// from the upstream simulator catalog.
type SimulatorVersion struct {
	// ID is the simulator name, e.g. "copasi".
	ID string `msgpack:"id" json:"id"`
	// Name is the human-readable simulator name.
	Name string `msgpack:"name" json:"name"`
	// Version is the simulator release version.
	Version string `msgpack:"version" json:"version"`
	// Image is the container image for this release.
	Image ImageInfo `msgpack:"image" json:"image"`
	// Created is the upstream creation timestamp string.
	Created string `msgpack:"created" json:"created"`
	// Updated is the upstream last-update timestamp string.
	Updated string `msgpack:"updated" json:"updated"`
}

// Key returns the "id:version" identifier used to label a simulator's
// outputs in comparison reports.
func (s SimulatorVersion) Key() string {
	return s.ID + ":" + s.Version
}
