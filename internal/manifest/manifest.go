// Package manifest models the asset manifest: the catalog of every known
// asset with its URL, type, group and default priority.
package manifest

import (
	"fmt"
	"slices"
	"strings"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/multierr"

	"github.com/assetpipe/assetpipe/pkg/errors"
	"github.com/assetpipe/assetpipe/pkg/types"
)

// Entry is one manifest asset
type Entry = types.Descriptor

// Manifest is the asset catalog document
type Manifest struct {
	Version string  `json:"version,omitempty" mapstructure:"version"`
	Assets  []Entry `json:"assets" mapstructure:"assets"`
}

// Decode converts the data loader's generic JSON value into a Manifest.
// Numeric ids are accepted and converted to strings.
func Decode(raw any) (*Manifest, error) {
	switch m := raw.(type) {
	case *Manifest:
		if m == nil {
			return nil, fmt.Errorf("%w: empty document", errors.ErrInvalidManifest)
		}
		return m.Clone(), nil
	case Manifest:
		return m.Clone(), nil
	case nil:
		return nil, fmt.Errorf("%w: empty document", errors.ErrInvalidManifest)
	}

	var m Manifest
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &m,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidManifest, err)
	}
	return &m, nil
}

// Clone returns a copy that shares no storage with m
func (m *Manifest) Clone() *Manifest {
	if m == nil {
		return nil
	}
	return &Manifest{Version: m.Version, Assets: slices.Clone(m.Assets)}
}

// Validate rejects entries without id, url or type and duplicate ids.
func (m *Manifest) Validate() error {
	var errs error
	seen := make(map[string]int, len(m.Assets))

	for i, a := range m.Assets {
		if strings.TrimSpace(a.ID) == "" {
			errs = multierr.Append(errs, fmt.Errorf("assets[%d]: missing id", i))
		} else if prev, dup := seen[a.ID]; dup {
			errs = multierr.Append(errs, fmt.Errorf("assets[%d]: duplicate id %q (first at assets[%d])", i, a.ID, prev))
		} else {
			seen[a.ID] = i
		}
		if strings.TrimSpace(a.URL) == "" {
			errs = multierr.Append(errs, fmt.Errorf("assets[%d]: missing url", i))
		}
		if strings.TrimSpace(a.Type) == "" {
			errs = multierr.Append(errs, fmt.Errorf("assets[%d]: missing type", i))
		}
	}

	if errs != nil {
		return fmt.Errorf("%w: %w", errors.ErrInvalidManifest, errs)
	}
	return nil
}

// Find returns the entry with id
func (m *Manifest) Find(id string) (Entry, bool) {
	for _, a := range m.Assets {
		if a.ID == id {
			return a, true
		}
	}
	return Entry{}, false
}

// Groups maps each group name to its member ids in manifest order. Entries
// without a group belong to none.
func (m *Manifest) Groups() map[string][]string {
	groups := make(map[string][]string)
	for _, a := range m.Assets {
		if a.Group == "" {
			continue
		}
		groups[a.Group] = append(groups[a.Group], a.ID)
	}
	return groups
}
