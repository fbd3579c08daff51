package service

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"balance_reconciler/internal/app/port"
	"balance_reconciler/internal/domain/entity"
	"balance_reconciler/internal/pkg/metrics"
)

// DefaultScanBudget is how long a scan may stay in progress without a callback before a soft timeout.
const DefaultScanBudget = 120 * time.Second

// ProgressScale says how numeric scan progress is read.
type ProgressScale string

const (
	// ProgressScaleAuto reads values in [0,1] as ratios and values above 1 as percentages.
	// An engine reporting exactly 1% is therefore seen as complete.
	ProgressScaleAuto    ProgressScale = "auto"
	ProgressScaleRatio   ProgressScale = "ratio"
	ProgressScalePercent ProgressScale = "percent"
)

// ParseProgressScale maps a configured name to a ProgressScale. An empty name selects ProgressScaleAuto.
func ParseProgressScale(name string) (ProgressScale, error) {
	switch ProgressScale(strings.ToLower(strings.TrimSpace(name))) {
	case "", ProgressScaleAuto:
		return ProgressScaleAuto, nil
	case ProgressScaleRatio:
		return ProgressScaleRatio, nil
	case ProgressScalePercent:
		return ProgressScalePercent, nil
	default:
		return "", fmt.Errorf("unknown progress scale %q", name)
	}
}

// SoftTimeoutListener receives watchdog diagnostics.
type SoftTimeoutListener func(entity.ScanSoftTimeout)

type scanTracker struct {
	state      entity.ScanState
	timer      *time.Timer
	generation uint64
}

// ScanWatchdog follows the UTXO and TXID scan streams and raises a soft timeout when one stalls.
// It never cancels or fails a scan; the engine owns it.
type ScanWatchdog struct {
	budget time.Duration
	scale  ProgressScale
	logger port.Logger
	now    func() time.Time

	mu        sync.Mutex
	trackers  map[entity.ScanKind]*scanTracker
	listeners []SoftTimeoutListener
	stopped   bool
}

// NewScanWatchdog creates a watchdog. A non-positive budget selects DefaultScanBudget.
func NewScanWatchdog(budget time.Duration, logger port.Logger) *ScanWatchdog {
	if budget <= 0 {
		budget = DefaultScanBudget
	}
	w := &ScanWatchdog{
		budget:   budget,
		scale:    ProgressScaleAuto,
		logger:   logger,
		now:      time.Now,
		trackers: make(map[entity.ScanKind]*scanTracker, 2),
	}
	for _, kind := range []entity.ScanKind{entity.ScanKindUTXO, entity.ScanKindTXID} {
		w.trackers[kind] = &scanTracker{state: entity.ScanState{Kind: kind, Phase: entity.ScanPhaseIdle}}
	}
	return w
}

// OnSoftTimeout registers a listener. Listeners run on the timer goroutine.
func (w *ScanWatchdog) OnSoftTimeout(l SoftTimeoutListener) {
	if l == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, l)
	w.mu.Unlock()
}

// SetProgressScale fixes how later callbacks' progress values are read.
func (w *ScanWatchdog) SetProgressScale(scale ProgressScale) {
	w.mu.Lock()
	w.scale = scale
	w.mu.Unlock()
}

// Observe records one scan callback and moves the state machine.
func (w *ScanWatchdog) Observe(kind entity.ScanKind, raw entity.RawScanEvent) entity.ScanState {
	w.mu.Lock()
	scale := w.scale
	w.mu.Unlock()
	progress, hasProgress := parseProgress(raw["progress"], scale)
	status := strings.ToLower(stringOf(raw["status"]))
	errText := stringOf(raw["error"])
	if errText == "" {
		if m, ok := raw["error"].(map[string]any); ok {
			errText = stringOf(m["message"])
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	t, ok := w.trackers[kind]
	if !ok {
		t = &scanTracker{state: entity.ScanState{Kind: kind, Phase: entity.ScanPhaseIdle}}
		w.trackers[kind] = t
	}
	prevPhase := t.state.Phase

	if hasProgress {
		t.state.Progress = progress
	}
	t.state.Status = status
	if chain := chainOf(raw["chain"]); chain != "" {
		t.state.Chain = chain
	}
	t.state.LastError = errText
	t.state.LastEventAt = w.now()

	switch {
	case status == "complete" || (hasProgress && progress >= 1):
		t.state.Phase = entity.ScanPhaseComplete
		t.state.Progress = 1
		w.disarm(t)
	case hasProgress && progress > 0:
		t.state.Phase = entity.ScanPhaseInProgress
		if prevPhase != entity.ScanPhaseInProgress {
			t.state.SoftTimeouts = 0
		}
		w.arm(kind, t)
	case hasProgress && progress == 0:
		// A fresh scan round after completion starts from zero.
		if prevPhase == entity.ScanPhaseComplete {
			t.state.Phase = entity.ScanPhaseIdle
		}
		if t.state.Phase == entity.ScanPhaseInProgress {
			w.arm(kind, t)
		}
	default:
		// Status-only or error callbacks keep the phase; an in-progress scan stays watched.
		if t.state.Phase == entity.ScanPhaseInProgress {
			w.arm(kind, t)
		}
	}

	metrics.ScanProgress.WithLabelValues(string(kind)).Set(t.state.Progress)
	if prevPhase != t.state.Phase {
		w.logger.Debug("Scan phase changed", "kind", kind, "from", prevPhase, "to", t.state.Phase, "progress", t.state.Progress)
	}
	if errText != "" {
		w.logger.Warn("Scan reported an error", "kind", kind, "error", errText, "status", status)
	}
	return t.state
}

// arm (re)starts the debounce timer. The caller holds w.mu.
func (w *ScanWatchdog) arm(kind entity.ScanKind, t *scanTracker) {
	if w.stopped {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.generation++
	gen := t.generation
	t.timer = time.AfterFunc(w.budget, func() { w.fire(kind, gen) })
}

// disarm stops the timer. The caller holds w.mu.
func (w *ScanWatchdog) disarm(t *scanTracker) {
	t.generation++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (w *ScanWatchdog) fire(kind entity.ScanKind, gen uint64) {
	w.mu.Lock()
	t, ok := w.trackers[kind]
	if !ok || w.stopped || t.generation != gen || t.state.Phase != entity.ScanPhaseInProgress {
		w.mu.Unlock()
		return
	}
	t.timer = nil
	t.state.SoftTimeouts++
	ev := entity.ScanSoftTimeout{
		Kind:     kind,
		Progress: t.state.Progress,
		Silence:  w.now().Sub(t.state.LastEventAt),
		FiredAt:  w.now(),
	}
	listeners := append([]SoftTimeoutListener(nil), w.listeners...)
	w.mu.Unlock()

	metrics.ScanSoftTimeouts.WithLabelValues(string(kind)).Inc()
	w.logger.Warn("Scan has made no progress within budget; still waiting",
		"kind", kind, "progress", ev.Progress, "silence", ev.Silence.String())
	for _, l := range listeners {
		l(ev)
	}
}

// State returns the current state of one scan stream.
func (w *ScanWatchdog) State(kind entity.ScanKind) entity.ScanState {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.trackers[kind]; ok {
		return t.state
	}
	return entity.ScanState{Kind: kind, Phase: entity.ScanPhaseIdle}
}

// States returns both scan streams, UTXO first.
func (w *ScanWatchdog) States() []entity.ScanState {
	return []entity.ScanState{w.State(entity.ScanKindUTXO), w.State(entity.ScanKindTXID)}
}

// Stop disarms every timer. Later callbacks still update state but never arm a timer.
func (w *ScanWatchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	for _, t := range w.trackers {
		w.disarm(t)
	}
}

// parseProgress reads v as a ratio or a percentage according to scale and clamps it to [0,1].
func parseProgress(v any, scale ProgressScale) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || f < 0 {
		return 0, false
	}
	switch scale {
	case ProgressScalePercent:
		f /= 100
	case ProgressScaleRatio:
	default:
		if f > 1 {
			f /= 100
		}
	}
	if f > 1 {
		f = 1
	}
	return f, true
}

func chainOf(v any) string {
	switch t := v.(type) {
	case map[string]any:
		typ := stringOf(t["type"])
		id := stringOf(t["id"])
		if typ == "" && id == "" {
			return ""
		}
		return typ + ":" + id
	default:
		return stringOf(v)
	}
}
