package commands

import (
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/spf13/cobra"

	"github.com/assetpipe/assetpipe/internal/cache"
	"github.com/assetpipe/assetpipe/internal/events"
	"github.com/assetpipe/assetpipe/internal/health"
	"github.com/assetpipe/assetpipe/pkg/errors"
	"github.com/assetpipe/assetpipe/pkg/types"
)

var (
	preloadGroups       []string
	preloadPriority     string
	preloadWaitOptional bool
)

var preloadCmd = &cobra.Command{
	Use:   "preload <manifest-url>",
	Short: "Preload manifest assets by priority",
	Long: `Load a manifest and preload its assets through the tiered scheduler.
Critical and district assets are awaited; optional assets load in the
background and are only reported when --wait-optional is set.

Examples:
  # Preload every asset in the manifest
  assetctl preload assets/manifest.json --wait-optional

  # Preload two groups at critical priority
  assetctl preload assets/manifest.json --group hud --group menu --priority critical

  # Expose metrics while preloading
  assetctl preload s3://game-assets/manifest.json --metrics-port 9090`,
	Args: cobra.ExactArgs(1),
	RunE: runPreload,
}

func init() {
	preloadCmd.Flags().StringSliceVar(&preloadGroups, "group", nil, "group to preload (repeatable, default: whole manifest)")
	preloadCmd.Flags().StringVar(&preloadPriority, "priority", "", "override priority (critical|district|optional)")
	preloadCmd.Flags().BoolVar(&preloadWaitOptional, "wait-optional", false, "wait for optional assets before reporting")
}

// assetReport is the outcome of one preloaded asset.
type assetReport struct {
	ID       string `json:"id" yaml:"id"`
	Type     string `json:"type" yaml:"type"`
	Priority string `json:"priority" yaml:"priority"`
	Status   string `json:"status" yaml:"status"`
	Size     int64  `json:"size" yaml:"size"`
	Reason   string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

type preloadReport struct {
	Assets   []assetReport             `json:"assets" yaml:"assets"`
	Loaded   int                       `json:"loaded" yaml:"loaded"`
	Failed   int                       `json:"failed" yaml:"failed"`
	Pending  int                       `json:"pending" yaml:"pending"`
	Memory   int64                     `json:"memory" yaml:"memory"`
	Progress map[string]progressReport `json:"progress" yaml:"progress"`
	Retries  int                       `json:"retries" yaml:"retries"`
	Sources  []health.SourceHealth     `json:"sources" yaml:"sources"`
	Breakers []breakerReport           `json:"breakers,omitempty" yaml:"breakers,omitempty"`
}

type breakerReport struct {
	Host     string `json:"host" yaml:"host"`
	State    string `json:"state" yaml:"state"`
	Requests uint32 `json:"requests" yaml:"requests"`
	Failures uint32 `json:"failures" yaml:"failures"`
}

type progressReport struct {
	Loaded     int     `json:"loaded" yaml:"loaded"`
	Total      int     `json:"total" yaml:"total"`
	Percentage float64 `json:"percentage" yaml:"percentage"`
}

func parsePriority(s string) (types.Priority, error) {
	p := types.Priority(s)
	if !slices.Contains(types.Priorities, p) {
		return "", fmt.Errorf("invalid priority: %q (valid: critical, district, optional)", s)
	}
	return p, nil
}

func runPreload(cmd *cobra.Command, args []string) error {
	format, err := parseFormat(outputFlag)
	if err != nil {
		return err
	}

	var override []types.Priority
	if preloadPriority != "" {
		p, err := parsePriority(preloadPriority)
		if err != nil {
			return err
		}
		override = append(override, p)
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	var (
		mu       sync.Mutex
		failures = make(map[string]string)
	)
	unsubscribe := s.Bus.Subscribe(events.TopicFailed, func(ev events.Event) {
		telemetry, ok := ev.Payload.(errors.Telemetry)
		if !ok {
			return
		}
		id, _ := telemetry["assetId"].(string)
		reason, _ := telemetry["reason"].(string)
		if reason == "" {
			reason = string(errors.ReasonUnknown)
		}
		mu.Lock()
		failures[id] = reason
		mu.Unlock()
	})
	defer unsubscribe()

	ctx := cmd.Context()
	if err := s.Manager.LoadManifest(ctx, args[0]); err != nil {
		return err
	}
	mf := s.Manager.Manifest()

	var selected []types.Descriptor
	if len(preloadGroups) == 0 {
		for _, a := range mf.Assets {
			if len(override) > 0 {
				a.Priority = override[0]
			}
			selected = append(selected, a)
		}
		if _, err := s.Manager.PreloadAssets(ctx, selected); err != nil {
			return err
		}
	} else {
		groups := mf.Groups()
		for _, name := range preloadGroups {
			for _, id := range groups[name] {
				if a, ok := mf.Find(id); ok {
					if len(override) > 0 {
						a.Priority = override[0]
					}
					selected = append(selected, a)
				}
			}
			if _, err := s.Manager.PreloadGroup(ctx, name, override...); err != nil {
				return err
			}
		}
	}

	if preloadWaitOptional {
		s.Manager.WaitBackground()
	}

	mu.Lock()
	report := buildPreloadReport(s, selected, failures)
	mu.Unlock()

	out := cmd.OutOrStdout()
	if format != formatTable {
		return printStructured(out, format, report)
	}

	assets := newTableData("ID", "TYPE", "PRIORITY", "STATUS", "SIZE")
	for _, a := range report.Assets {
		status := a.Status
		if a.Reason != "" {
			status += " (" + a.Reason + ")"
		}
		size := "-"
		if a.Status == "loaded" {
			size = formatBytes(a.Size)
		}
		assets.addRow(a.ID, a.Type, a.Priority, status, size)
	}
	printTable(out, assets)

	fmt.Fprintln(out)
	pairs := [][2]string{
		{"loaded", strconv.Itoa(report.Loaded)},
		{"failed", strconv.Itoa(report.Failed)},
		{"pending", strconv.Itoa(report.Pending)},
		{"memory", formatBytes(report.Memory)},
		{"retried loads", strconv.Itoa(report.Retries)},
	}
	for _, tier := range types.Priorities {
		if p, ok := report.Progress[string(tier)]; ok {
			pairs = append(pairs, [2]string{string(tier), fmt.Sprintf("%d/%d (%.0f%%)", p.Loaded, p.Total, p.Percentage)})
		}
	}
	printKeyValues(out, pairs)

	if len(report.Sources) > 0 {
		fmt.Fprintln(out)
		sources := newTableData("SOURCE", "STATE", "OK", "ERRORS", "LAST ERROR")
		for _, src := range report.Sources {
			sources.addRow(src.Name, src.State.String(),
				strconv.FormatInt(src.Successes, 10), strconv.FormatInt(src.Failures, 10), src.LastErrorMessage)
		}
		printTable(out, sources)
	}

	if len(report.Breakers) > 0 {
		fmt.Fprintln(out)
		breakers := newTableData("HOST", "BREAKER", "REQUESTS", "FAILURES")
		for _, b := range report.Breakers {
			breakers.addRow(b.Host, b.State, strconv.FormatUint(uint64(b.Requests), 10), strconv.FormatUint(uint64(b.Failures), 10))
		}
		printTable(out, breakers)
	}

	if report.Failed > 0 {
		return fmt.Errorf("%d of %d assets failed to load", report.Failed, len(report.Assets))
	}
	return nil
}

func buildPreloadReport(s *session, selected []types.Descriptor, failures map[string]string) preloadReport {
	report := preloadReport{Progress: make(map[string]progressReport)}
	seen := make(map[string]bool, len(selected))

	for _, d := range selected {
		if seen[d.ID] {
			continue
		}
		seen[d.ID] = true

		a := assetReport{
			ID:       d.ID,
			Type:     d.Type,
			Priority: string(types.NormalizePriority(d.Priority)),
		}
		if v, ok := s.Manager.GetAsset(d.ID); ok {
			a.Status = "loaded"
			a.Size = cache.EstimateSize(v)
			report.Loaded++
		} else if reason, failed := failures[d.ID]; failed {
			a.Status = "failed"
			a.Reason = reason
			report.Failed++
		} else {
			a.Status = "pending"
			report.Pending++
		}
		report.Assets = append(report.Assets, a)
	}

	stats := s.Manager.GetStats()
	report.Memory = stats.Memory
	for _, tier := range types.Priorities {
		ls := s.Manager.GetLoadingStats(tier)
		if ls.Total == 0 {
			continue
		}
		report.Progress[string(tier)] = progressReport{Loaded: ls.Loaded, Total: ls.Total, Percentage: ls.Percentage}
	}
	report.Retries = s.RetryStats.GetStats().Retried
	report.Sources = s.Health.Sources()
	for _, b := range s.Router.BreakerStats() {
		report.Breakers = append(report.Breakers, breakerReport{
			Host:     b.Host,
			State:    b.State.String(),
			Requests: b.Counts.Requests,
			Failures: b.Counts.TotalFailures,
		})
	}
	return report
}
