package types

import (
	"strings"
	"sync"
)

// Priority is a scheduling tier. Higher tiers are admitted first.
type Priority string

// Scheduling tiers in descending precedence.
const (
	PriorityCritical Priority = "critical"
	PriorityDistrict Priority = "district"
	PriorityOptional Priority = "optional"
)

// Priorities lists every tier in descending precedence.
var Priorities = []Priority{PriorityCritical, PriorityDistrict, PriorityOptional}

// NormalizePriority maps recognized tier literals to themselves and anything
// else (empty, misspelled, wrong case) to PriorityOptional.
func NormalizePriority(p Priority) Priority {
	switch p {
	case PriorityCritical, PriorityDistrict, PriorityOptional:
		return p
	default:
		return PriorityOptional
	}
}

// Rank returns the precedence index of a tier, 0 being the highest.
func (p Priority) Rank() int {
	for i, tier := range Priorities {
		if tier == p {
			return i
		}
	}
	return len(Priorities) - 1
}

// String returns the tier literal
func (p Priority) String() string {
	return string(p)
}

// Asset kinds produced by the loader's type dispatch.
const (
	KindImage = "image"
	KindData  = "json"
	KindAudio = "audio"
)

// ResolveKind maps a manifest type (or one of its aliases) to the loader kind
// that handles it. The boolean is false for unknown types.
func ResolveKind(assetType string) (string, bool) {
	switch strings.ToLower(assetType) {
	case "image", "img", "png", "jpg", "jpeg", "gif", "webp":
		return KindImage, true
	case "json", "data":
		return KindData, true
	case "audio", "sound", "mp3", "ogg", "wav", "webm":
		return KindAudio, true
	default:
		return "", false
	}
}

// Descriptor identifies a single resource to load.
type Descriptor struct {
	ID       string   `json:"id" mapstructure:"id"`
	URL      string   `json:"url" mapstructure:"url"`
	Type     string   `json:"type" mapstructure:"type"`
	Group    string   `json:"group,omitempty" mapstructure:"group"`
	Priority Priority `json:"priority,omitempty" mapstructure:"priority"`
}

// Key returns the identifier used for batch results: the ID when present,
// otherwise the URL.
func (d Descriptor) Key() string {
	if d.ID != "" {
		return d.ID
	}
	return d.URL
}

// Image is a decoded image handle.
type Image struct {
	mu     sync.Mutex
	Src    string `json:"src"`
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Data   []byte `json:"-"`
}

// Detach drops the backing source so the encoded bytes can be collected.
func (img *Image) Detach() {
	img.mu.Lock()
	defer img.mu.Unlock()
	img.Src = ""
	img.Data = nil
}

// Source returns the current backing source, empty once detached.
func (img *Image) Source() string {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.Src
}

// Audio is a decoded audio handle. Playback itself belongs to the audio
// system; the handle only tracks whether it was started.
type Audio struct {
	mu      sync.Mutex
	Src     string `json:"src"`
	Format  string `json:"format"`
	Data    []byte `json:"-"`
	playing bool
}

// Play marks the handle as playing.
func (a *Audio) Play() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.playing = true
}

// Pause stops playback.
func (a *Audio) Pause() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.playing = false
}

// Playing reports whether the handle is playing.
func (a *Audio) Playing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.playing
}

// Detach drops the backing source.
func (a *Audio) Detach() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Src = ""
	a.Data = nil
}

// Source returns the current backing source, empty once detached.
func (a *Audio) Source() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Src
}
