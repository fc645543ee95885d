/*
Package types provides the shared contracts and data structures for assetpipe.

Every other package depends on the definitions here, which keeps the loader,
the manager and the fetch layer decoupled from one another.

# Architecture Overview

	┌─────────────────────────────────────────────┐
	│      Consumers (render, audio, narrative)   │
	└─────────────────────────────────────────────┘
	                      │ ids
	┌─────────────────────────────────────────────┐
	│               AssetManager                  │
	│  manifest · tier queues · refcount cache    │
	│            (internal/manager)               │
	└─────────────────────────────────────────────┘
	                      │ LoadByType
	┌─────────────────────────────────────────────┐
	│              ResourceLoader                 │
	│      timeout · retry · batch progress       │
	│             (internal/loader)               │
	└─────────────────────────────────────────────┘
	          │                        │
	┌─────────┴─────────┐    ┌─────────┴─────────┐
	│  Fetcher          │    │  Decoder          │
	│  (internal/fetch) │    │ (internal/decode) │
	└───────────────────┘    └───────────────────┘

# Core Contracts

Fetcher: retrieves raw bytes for a URL. Implementations exist for HTTP,
local files, S3 and MinIO.

Decoder: converts bytes into a handle. Images become *Image, audio becomes
*Audio and structured data becomes a generic JSON value.

EventSink: a publish-only notification target. The manager never reads
anything back from it.

# Priorities

Three tiers exist, in descending precedence: PriorityCritical,
PriorityDistrict and PriorityOptional. NormalizePriority maps any
unrecognized value to PriorityOptional.

# Type Dispatch

ResolveKind maps manifest types and their aliases to a loader kind:

	image, img, png, jpg, jpeg, gif, webp  → image
	json, data                             → json
	audio, sound, mp3, ogg, wav, webm      → audio
*/
package types
