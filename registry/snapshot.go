package registry

import "strings"

// ToolRecord is the serializable form of a Tool. Execute is deliberately
// absent: handles are rebound on import by name lookup against a
// caller-provided handler table, never serialized.
type ToolRecord struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Category     string   `json:"category"`
	Version      string   `json:"version"`
	InputTypes   []string `json:"inputTypes"`
	OutputTypes  []string `json:"outputTypes"`
	Capabilities []string `json:"capabilities"`
	Keywords     []string `json:"keywords"`
	Description  string   `json:"description"`
	Fallbacks    []string `json:"fallbacks"`
	Critical     bool     `json:"critical"`
}

// StatsRecord is the serializable form of ToolStats.
type StatsRecord struct {
	Successes    int64   `json:"successes"`
	Failures     int64   `json:"failures"`
	EWMAExecMs   float64 `json:"ewmaExecMs"`
	LastUsedUnix int64   `json:"lastUsedUnix"`
}

// Snapshot is the full exportable state of a Registry.
type Snapshot struct {
	Tools []ToolRecord           `json:"tools"`
	Stats map[string]StatsRecord `json:"stats"`
}

// Export produces a Snapshot with every tool's declarative metadata and
// stats, omitting the live Execute handles.
func (r *Registry) Export() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		Tools: make([]ToolRecord, 0, len(r.byID)),
		Stats: make(map[string]StatsRecord, len(r.stats)),
	}
	for id, t := range r.byID {
		snap.Tools = append(snap.Tools, ToolRecord{
			ID: t.ID, Name: t.Name, Category: t.Category, Version: t.Version,
			InputTypes: t.InputTypes, OutputTypes: t.OutputTypes,
			Capabilities: t.Capabilities, Keywords: t.Keywords,
			Description: t.Description, Fallbacks: t.Fallbacks, Critical: t.Critical,
		})
		if s, ok := r.stats[id]; ok {
			snap.Stats[id] = StatsRecord{
				Successes: s.Successes, Failures: s.Failures,
				EWMAExecMs: s.EWMAExecMs, LastUsedUnix: s.LastUsedUnix,
			}
		}
	}
	return snap
}

// HandlerTable maps a tool name (case-insensitive) to the live Execute
// function that should be rebound to it on import.
type HandlerTable map[string]ExecuteFunc

// Import registers every tool in snap alongside the registry's existing
// contents (nothing is removed first), rebinding Execute handles from
// handlers by tool name and restoring each imported tool's stats. A tool
// with no matching handler, or whose id or name collides with one already
// registered, is skipped and logged rather than registered half-formed.
func (r *Registry) Import(snap Snapshot, handlers HandlerTable) int {
	imported := 0
	for _, rec := range snap.Tools {
		handler, ok := handlers[strings.ToLower(rec.Name)]
		if !ok {
			r.logger.Warn("skipping tool with no bound handler on import", map[string]interface{}{"name": rec.Name})
			continue
		}
		tool := Tool{
			ID: rec.ID, Name: rec.Name, Category: rec.Category, Version: rec.Version,
			InputTypes: rec.InputTypes, OutputTypes: rec.OutputTypes,
			Capabilities: rec.Capabilities, Keywords: rec.Keywords,
			Description: rec.Description, Fallbacks: rec.Fallbacks, Critical: rec.Critical,
			Execute: handler,
		}
		if _, err := r.Register(tool); err != nil {
			r.logger.Warn("failed to import tool", map[string]interface{}{"name": rec.Name, "error": err.Error()})
			continue
		}
		if stat, ok := snap.Stats[rec.ID]; ok {
			r.mu.Lock()
			r.stats[rec.ID] = &ToolStats{
				Successes: stat.Successes, Failures: stat.Failures,
				EWMAExecMs: stat.EWMAExecMs, LastUsedUnix: stat.LastUsedUnix,
			}
			r.mu.Unlock()
		}
		imported++
	}
	return imported
}
