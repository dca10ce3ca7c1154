package supervisor

import "github.com/hugo-lorenzo-mato/marketflow/internal/core"

// IsDone reports whether a run has succeeded: every required agent settled
// and no critical agent failed permanently.
func IsDone(registry *Registry, snap *core.Snapshot) bool {
	for _, id := range registry.RequiredSet(snap.Intents) {
		if snap.CompletedAgents.Has(id) {
			continue
		}
		if !snap.PermanentlyFailedAgents.Has(id) {
			return false
		}
		if desc, _ := registry.Descriptor(id); desc.Critical {
			return false
		}
	}
	return true
}
