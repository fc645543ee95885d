package manager

import (
	"context"

	"github.com/assetpipe/assetpipe/internal/events"
	"github.com/assetpipe/assetpipe/pkg/errors"
	"github.com/assetpipe/assetpipe/pkg/types"
)

// PreloadGroup preloads every member of a group at its manifest priority,
// or at override when one is given. An unknown or empty group yields an
// empty result.
func (m *Manager) PreloadGroup(ctx context.Context, name string, override ...types.Priority) (map[string]any, error) {
	m.mu.Lock()
	members := m.groups[name]
	descs := make([]types.Descriptor, 0, len(members))
	for _, id := range members {
		entry, ok := m.manifest.Find(id)
		if !ok {
			continue
		}
		if len(override) > 0 {
			entry.Priority = override[0]
		}
		descs = append(descs, entry)
	}
	m.mu.Unlock()

	if len(descs) == 0 {
		m.logger.Warn("Group not found or empty: " + name)
		return map[string]any{}, nil
	}
	return m.PreloadAssets(ctx, descs)
}

// PreloadAssets requests descs bucketed by tier. Critical and district
// requests are awaited and their successes returned; a failure is logged
// and reported without affecting its siblings. Optional requests load in
// the background and are never part of the result; WaitBackground blocks
// until they settle.
//
// The returned error is only ctx's error when waiting was abandoned.
func (m *Manager) PreloadAssets(ctx context.Context, descs []types.Descriptor) (map[string]any, error) {
	buckets := make(map[types.Priority][]types.Descriptor, len(types.Priorities))
	for _, d := range descs {
		tier := types.NormalizePriority(d.Priority)
		buckets[tier] = append(buckets[tier], d)
	}

	pending := make(map[types.Priority][]*Pending, len(types.Priorities))
	for _, tier := range types.Priorities {
		bucket := buckets[tier]
		if len(bucket) == 0 {
			continue
		}

		m.mu.Lock()
		m.stats[tier] = &tierStats{total: len(bucket)}
		m.mu.Unlock()
		m.sink.Emit(events.TopicPriorityLoading, events.PriorityLoading{Priority: tier, Count: len(bucket)})

		for _, d := range bucket {
			pending[tier] = append(pending[tier], m.request(d.ID, requestOptions{
				priority: tier,
				progress: true,
				counted:  true,
				context:  map[string]any{"consumer": ConsumerPreloadAssets},
			}))
		}
	}

	if optional := pending[types.PriorityOptional]; len(optional) > 0 {
		m.background.Add(1)
		go func() {
			defer m.background.Done()
			for _, p := range optional {
				<-p.Done()
				if _, err, _ := p.Result(); err != nil {
					m.reportPreloadFailure(p.ID(), types.PriorityOptional, err)
				}
			}
		}()
	}

	results := make(map[string]any)
	for _, tier := range []types.Priority{types.PriorityCritical, types.PriorityDistrict} {
		for _, p := range pending[tier] {
			value, err := p.Wait(ctx)
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			if err != nil {
				m.reportPreloadFailure(p.ID(), tier, err)
				continue
			}
			results[p.ID()] = value
		}
	}
	return results, nil
}

func (m *Manager) reportPreloadFailure(id string, tier types.Priority, err error) {
	telemetry := errors.BuildTelemetryContext(err, map[string]any{
		"assetId":  id,
		"priority": string(tier),
		"consumer": ConsumerPreloadAssets,
	})
	m.logger.Error("Failed to preload asset",
		"asset", id,
		"priority", tier,
		"reason", telemetry["reason"],
		"error", err)
}

// WaitBackground blocks until every optional-tier preload has settled
func (m *Manager) WaitBackground() {
	m.background.Wait()
}
