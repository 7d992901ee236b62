package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nexusmind/orchestrator/core"
)

// Registry is the single-writer/multi-reader tool catalog. All indices are
// kept coherent with the primary map under one mutex so readers never observe
// a torn view: a registration or unregistration updates the primary map and
// every secondary index before releasing the write lock.
type Registry struct {
	mu sync.RWMutex

	byID       map[string]Tool
	byName     map[string]string   // case-folded name -> id
	byCategory map[string][]string // category -> ids
	byKeyword  map[string][]string // case-folded keyword -> ids
	stats      map[string]*ToolStats

	logger core.Logger
}

// New constructs an empty Registry.
func New(logger core.Logger) *Registry {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Registry{
		byID:       make(map[string]Tool),
		byName:     make(map[string]string),
		byCategory: make(map[string][]string),
		byKeyword:  make(map[string][]string),
		stats:      make(map[string]*ToolStats),
		logger:     logger,
	}
}

// ValidationError reports a malformed tool definition or name collision.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// Register validates and inserts a tool definition, assigning an id if one
// was not supplied. Name collisions (case-insensitive) and missing required
// fields fail with ValidationError; nothing is mutated on failure.
func (r *Registry) Register(def Tool) (Tool, error) {
	if strings.TrimSpace(def.Name) == "" {
		return Tool{}, &ValidationError{Field: "name", Message: "required"}
	}
	if def.Execute == nil {
		return Tool{}, &ValidationError{Field: "execute", Message: "required"}
	}
	if def.ID == "" {
		def.ID = uuid.New().String()
	}

	foldedName := strings.ToLower(def.Name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[def.ID]; exists {
		return Tool{}, &ValidationError{Field: "id", Message: "already registered"}
	}
	if existingID, exists := r.byName[foldedName]; exists && existingID != def.ID {
		return Tool{}, &ValidationError{Field: "name", Message: "collides with an existing tool (case-insensitive)"}
	}

	r.byID[def.ID] = def
	r.byName[foldedName] = def.ID
	if def.Category != "" {
		r.byCategory[def.Category] = append(r.byCategory[def.Category], def.ID)
	}
	for _, kw := range def.Keywords {
		folded := strings.ToLower(kw)
		r.byKeyword[folded] = append(r.byKeyword[folded], def.ID)
	}
	r.stats[def.ID] = &ToolStats{}

	r.logger.Info("tool registered", map[string]interface{}{"id": def.ID, "name": def.Name})
	return def, nil
}

// Unregister removes a tool (by id or case-insensitive name) from the primary
// map and every index. Reports false if the tool was never known.
func (r *Registry) Unregister(idOrName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.resolveIDLocked(idOrName)
	if !ok {
		return false
	}
	def := r.byID[id]

	delete(r.byID, id)
	delete(r.byName, strings.ToLower(def.Name))
	delete(r.stats, id)
	if def.Category != "" {
		r.byCategory[def.Category] = removeString(r.byCategory[def.Category], id)
	}
	for _, kw := range def.Keywords {
		folded := strings.ToLower(kw)
		r.byKeyword[folded] = removeString(r.byKeyword[folded], id)
	}

	r.logger.Info("tool unregistered", map[string]interface{}{"id": id})
	return true
}

func (r *Registry) resolveIDLocked(idOrName string) (string, bool) {
	if _, ok := r.byID[idOrName]; ok {
		return idOrName, true
	}
	if id, ok := r.byName[strings.ToLower(idOrName)]; ok {
		return id, true
	}
	return "", false
}

// Get returns a tool by id or case-insensitive name.
func (r *Registry) Get(idOrName string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.resolveIDLocked(idOrName)
	if !ok {
		return Tool{}, false
	}
	return r.byID[id], true
}

// Find returns the intersection of tools matching every supplied criterion.
// An empty Criteria returns every registered tool.
func (r *Registry) Find(criteria Criteria) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if criteria.isEmpty() {
		out := make([]Tool, 0, len(r.byID))
		for _, t := range r.byID {
			out = append(out, t)
		}
		sortToolsByID(out)
		return out
	}

	var candidateSets [][]string
	if criteria.Category != "" {
		candidateSets = append(candidateSets, r.byCategory[criteria.Category])
	}
	for _, kw := range criteria.Keywords {
		candidateSets = append(candidateSets, r.byKeyword[strings.ToLower(kw)])
	}

	var ids map[string]struct{}
	if len(candidateSets) > 0 {
		ids = intersect(candidateSets)
	} else {
		ids = make(map[string]struct{}, len(r.byID))
		for id := range r.byID {
			ids[id] = struct{}{}
		}
	}

	out := make([]Tool, 0, len(ids))
	for id := range ids {
		t, ok := r.byID[id]
		if !ok {
			continue
		}
		if criteria.Capability != "" && !containsString(t.Capabilities, criteria.Capability) {
			continue
		}
		if criteria.InputType != "" && !containsString(t.InputTypes, criteria.InputType) {
			continue
		}
		if criteria.OutputType != "" && !containsString(t.OutputTypes, criteria.OutputType) {
			continue
		}
		out = append(out, t)
	}
	sortToolsByID(out)
	return out
}

// Scored pairs a tool with its recommendation score for one query.
type Scored struct {
	Tool  Tool
	Score float64
}

// Recommend scores every tool against query and returns them sorted
// descending by score, ties broken by higher success rate then lexicographic
// name. Zero-score tools are omitted.
func (r *Registry) Recommend(query string) []Scored {
	folded := strings.ToLower(query)

	r.mu.RLock()
	defer r.mu.RUnlock()

	scored := make([]Scored, 0, len(r.byID))
	for id, t := range r.byID {
		raw := scoreTool(t, folded)
		if raw <= 0 {
			continue
		}
		stats := r.stats[id]
		factor := 0.5
		if stats != nil {
			factor += 0.5 * (float64(stats.Successes) / maxFloat(1, float64(stats.Successes+stats.Failures)))
		}
		scored = append(scored, Scored{Tool: t, Score: raw * factor})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		si, sj := r.stats[scored[i].Tool.ID], r.stats[scored[j].Tool.ID]
		ri, rj := 0.0, 0.0
		if si != nil {
			ri = si.SuccessRate()
		}
		if sj != nil {
			rj = sj.SuccessRate()
		}
		if ri != rj {
			return ri > rj
		}
		return strings.ToLower(scored[i].Tool.Name) < strings.ToLower(scored[j].Tool.Name)
	})
	return scored
}

func scoreTool(t Tool, foldedQuery string) float64 {
	var score float64
	for _, kw := range t.Keywords {
		if strings.Contains(foldedQuery, strings.ToLower(kw)) {
			score += 10
		}
	}
	if strings.Contains(foldedQuery, strings.ToLower(t.Name)) {
		score += 5
	}
	for _, gram := range threeGrams(strings.ToLower(t.Description)) {
		if strings.Contains(foldedQuery, gram) {
			score += 3
			break
		}
	}
	return score
}

func threeGrams(s string) []string {
	words := strings.Fields(s)
	if len(words) < 3 {
		return nil
	}
	grams := make([]string, 0, len(words)-2)
	for i := 0; i+3 <= len(words); i++ {
		grams = append(grams, strings.Join(words[i:i+3], " "))
	}
	return grams
}

// RecordUsage atomically folds one invocation outcome into a tool's stats.
func (r *Registry) RecordUsage(id string, success bool, durationMs float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats, ok := r.stats[id]
	if !ok {
		return
	}
	n := stats.TotalInvocations()
	stats.EWMAExecMs = (stats.EWMAExecMs*float64(n) + durationMs) / float64(n+1)
	if success {
		stats.Successes++
	} else {
		stats.Failures++
	}
	stats.LastUsedUnix = time.Now().Unix()
}

// Stats returns a copy of one tool's telemetry.
func (r *Registry) Stats(id string) (ToolStats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stats[id]
	if !ok {
		return ToolStats{}, false
	}
	return *s, true
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func removeString(s []string, target string) []string {
	out := s[:0]
	for _, v := range s {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}

func containsString(s []string, target string) bool {
	for _, v := range s {
		if v == target {
			return true
		}
	}
	return false
}

func intersect(sets [][]string) map[string]struct{} {
	counts := make(map[string]int)
	for _, set := range sets {
		seen := make(map[string]struct{}, len(set))
		for _, id := range set {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			counts[id]++
		}
	}
	out := make(map[string]struct{})
	for id, c := range counts {
		if c == len(sets) {
			out[id] = struct{}{}
		}
	}
	return out
}

func sortToolsByID(tools []Tool) {
	sort.Slice(tools, func(i, j int) bool { return tools[i].ID < tools[j].ID })
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
