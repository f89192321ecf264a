package breaker

import (
	"github.com/vllm-project/semantic-cache-proxy/pkg/consts"
	"github.com/vllm-project/semantic-cache-proxy/pkg/observability/logging"
)

// admissionThresholdPenalty is added to the configured admission threshold
// when the embedder is down and the engine can only score on structural,
// param, and recency signals (semantic similarity is unavailable).
const admissionThresholdPenalty = 0.05

// Degradation reports the engine's current serving mode, derived from the
// hot/indexed/embedder breaker states, and the admission threshold
// adjustment that mode requires.
type Degradation struct {
	Mode               string
	AdmissionThreshold float64
}

// Classify derives the degradation mode from dependency health per the
// hot/indexed/embedder matrix: hot and indexed each gate a serving path
// (exact, template) independently, and losing the embedder narrows
// template matching to non-semantic signals rather than disabling it
// outright — whether or not the hot tier is also up, so an embedder-only
// outage never forces a cache bypass.
func (m *Manager) Classify(baseThreshold float64) Degradation {
	hotUp := m.Get(consts.DependencyHotStore).Up()
	indexedUp := m.Get(consts.DependencyIndexedStore).Up()
	embedderUp := m.Get(consts.DependencyEmbedder).Up()

	var d Degradation
	switch {
	case hotUp && indexedUp && embedderUp:
		d = Degradation{Mode: consts.DegradationNone, AdmissionThreshold: baseThreshold}
	case hotUp && indexedUp && !embedderUp:
		d = Degradation{Mode: consts.DegradationFullWithoutSemantic, AdmissionThreshold: baseThreshold + admissionThresholdPenalty}
	case hotUp && !indexedUp:
		d = Degradation{Mode: consts.DegradationExactOnly, AdmissionThreshold: baseThreshold}
	case !hotUp && indexedUp && embedderUp:
		d = Degradation{Mode: consts.DegradationTemplateOnly, AdmissionThreshold: baseThreshold}
	case !hotUp && indexedUp && !embedderUp:
		d = Degradation{Mode: consts.DegradationTemplateWithoutSemantic, AdmissionThreshold: baseThreshold + admissionThresholdPenalty}
	default: // !hotUp && !indexedUp
		d = Degradation{Mode: consts.DegradationPassthrough, AdmissionThreshold: baseThreshold}
	}

	m.noteDegradationChange(d.Mode)
	return d
}

// noteDegradationChange logs a degradation_changed event the first time
// Classify is called and whenever the derived mode differs from the
// previous call's.
func (m *Manager) noteDegradationChange(mode string) {
	prev, _ := m.lastMode.Swap(mode).(string)
	if prev == mode {
		return
	}
	logging.DegradationChanged(map[string]interface{}{
		"from": prev,
		"to":   mode,
	})
}
