// Package sealed restricts store.Session implementations to the backends
// living under internal/store.
package sealed

// Seal is returned by sealed sessions. Packages outside internal/store cannot
// name it and therefore cannot declare a method returning it.
type Seal struct{}

// Marker is embedded by every backend session.
type Marker struct{}

// Seal marks the embedding type as a backend session.
func (Marker) Seal() Seal {
	return Seal{}
}
