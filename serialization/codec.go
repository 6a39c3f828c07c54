// Package serialization provides the pluggable payload codecs used by
// envelopes. A codec turns an application value into the opaque byte buffer
// that travels on the broker and back again.
package serialization

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownCodec is returned when a codec name has not been registered.
var ErrUnknownCodec = errors.New("serialization: unknown codec")

// Codec encodes and decodes payloads.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	// Name is the registry key, e.g. "json".
	Name() string
	// ContentType is stamped on outbound deliveries so receivers can pick
	// the matching codec.
	ContentType() string
}

// Factory constructs a codec.
type Factory func() Codec

type registry struct {
	mu      sync.RWMutex
	byName  map[string]Factory
	byMedia map[string]string
}

var defaultRegistry = &registry{
	byName:  make(map[string]Factory),
	byMedia: make(map[string]string),
}

func init() {
	_ = Register(JSONName, func() Codec { return JSON })
	_ = Register(BinaryName, func() Codec { return Binary })
}

// Register adds a codec factory under name. Registering the same name twice
// replaces the previous factory.
func Register(name string, factory Factory) error {
	if name == "" {
		return errors.New("serialization: codec name cannot be empty")
	}
	if factory == nil {
		return errors.New("serialization: codec factory cannot be nil")
	}

	c := factory()
	if c == nil {
		return fmt.Errorf("serialization: factory for %q returned nil", name)
	}

	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()

	defaultRegistry.byName[name] = factory
	if ct := c.ContentType(); ct != "" {
		defaultRegistry.byMedia[ct] = name
	}
	return nil
}

// New returns the codec registered under name.
func New(name string) (Codec, error) {
	defaultRegistry.mu.RLock()
	f, ok := defaultRegistry.byName[name]
	defaultRegistry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	return f(), nil
}

// ByContentType resolves the codec announced by a delivery's content type.
func ByContentType(contentType string) (Codec, bool) {
	defaultRegistry.mu.RLock()
	name, ok := defaultRegistry.byMedia[contentType]
	defaultRegistry.mu.RUnlock()

	if !ok {
		return nil, false
	}
	c, err := New(name)
	if err != nil {
		return nil, false
	}
	return c, true
}

// Names lists registered codec names in sorted order.
func Names() []string {
	defaultRegistry.mu.RLock()
	defer defaultRegistry.mu.RUnlock()

	names := make([]string, 0, len(defaultRegistry.byName))
	for name := range defaultRegistry.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
