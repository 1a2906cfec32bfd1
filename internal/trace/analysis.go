package trace

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chatcart/chatcart/internal/domain"
)

// Issue severities, worst first.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// severityOf buckets an issue string by how badly it breaks the
// conversation.
func severityOf(issue string) string {
	s := strings.ToLower(issue)
	switch {
	case strings.Contains(s, "premature") || strings.Contains(s, "loop"):
		return SeverityCritical
	case strings.Contains(s, "ignored") || strings.Contains(s, "context"):
		return SeverityHigh
	case strings.Contains(s, "intent"):
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// SessionSnapshot carries the session fields the customer analysis
// reports on. The caller resolves the session and runs consistency
// validation; the tracer stays free of storage concerns.
type SessionSnapshot struct {
	CurrentState      string
	Context           map[string]any
	Valid             bool
	RecommendedAction string
}

// StateTransitionStats summarizes where a conversation has been.
type StateTransitionStats struct {
	StateVisitCounts    map[string]int `json:"state_visit_counts"`
	TransitionPatterns  map[string]int `json:"transition_patterns"`
	MostVisitedState    string         `json:"most_visited_state"`
	UniqueStatesVisited int            `json:"unique_states_visited"`
	TotalTransitions    int            `json:"total_transitions"`
}

// FlowEntry is one step of the recent conversation flow, with the message
// shortened to a preview.
type FlowEntry struct {
	Timestamp      string   `json:"timestamp"`
	FromState      string   `json:"from_state"`
	ToState        string   `json:"to_state"`
	MessagePreview string   `json:"message_preview"`
	Intent         string   `json:"intent"`
	Action         string   `json:"action"`
	Issues         []string `json:"issues"`
}

// CustomerAnalysis is the full flow report for one customer.
type CustomerAnalysis struct {
	CustomerID                  string               `json:"customer_id"`
	CurrentState                string               `json:"current_state"`
	SessionContext              map[string]any       `json:"session_context"`
	TotalInteractions           int                  `json:"total_interactions"`
	ConversationDurationMinutes float64              `json:"conversation_duration_minutes"`
	StateTransitions            StateTransitionStats `json:"state_transitions"`
	DetectedIssues              map[string][]string  `json:"detected_issues"`
	ConversationFlow            []FlowEntry          `json:"conversation_flow"`
	Recommendations             []string             `json:"recommendations"`
}

// AnalyzeCustomer aggregates a customer's traces inside the window into
// flow statistics, severity-bucketed issues, and remediation hints.
func (t *Tracer) AnalyzeCustomer(customerID string, window time.Duration, sess SessionSnapshot) CustomerAnalysis {
	cutoff := t.now().UTC().Add(-window)

	t.mu.Lock()
	var traces []Trace
	for _, tr := range t.traces {
		if tr.CustomerID == customerID && tr.Timestamp.After(cutoff) {
			traces = append(traces, tr)
		}
	}
	t.mu.Unlock()

	return CustomerAnalysis{
		CustomerID:                  customerID,
		CurrentState:                sess.CurrentState,
		SessionContext:              sess.Context,
		TotalInteractions:           len(traces),
		ConversationDurationMinutes: durationMinutes(traces),
		StateTransitions:            transitionStats(traces),
		DetectedIssues:              bucketIssues(traces),
		ConversationFlow:            flowEntries(traces, 20),
		Recommendations:             customerRecommendations(traces, sess),
	}
}

func durationMinutes(traces []Trace) float64 {
	if len(traces) < 2 {
		return 0
	}
	return traces[len(traces)-1].Timestamp.Sub(traces[0].Timestamp).Minutes()
}

func transitionStats(traces []Trace) StateTransitionStats {
	stats := StateTransitionStats{
		StateVisitCounts:   map[string]int{},
		TransitionPatterns: map[string]int{},
		TotalTransitions:   len(traces),
	}
	for _, tr := range traces {
		stats.StateVisitCounts[tr.ToState]++
		stats.TransitionPatterns[fmt.Sprintf("%s -> %s", tr.FromState, tr.ToState)]++
	}
	stats.UniqueStatesVisited = len(stats.StateVisitCounts)

	best, bestCount := "", 0
	for _, state := range slices.Sorted(maps.Keys(stats.StateVisitCounts)) {
		if c := stats.StateVisitCounts[state]; c > bestCount {
			best, bestCount = state, c
		}
	}
	stats.MostVisitedState = best
	return stats
}

// bucketIssues groups issue strings by severity. All four buckets are
// always present.
func bucketIssues(traces []Trace) map[string][]string {
	buckets := map[string][]string{
		SeverityCritical: {},
		SeverityHigh:     {},
		SeverityMedium:   {},
		SeverityLow:      {},
	}
	for _, tr := range traces {
		for _, issue := range tr.Issues {
			sev := severityOf(issue)
			buckets[sev] = append(buckets[sev], issue)
		}
	}
	return buckets
}

func flowEntries(traces []Trace, limit int) []FlowEntry {
	if len(traces) > limit {
		traces = traces[len(traces)-limit:]
	}
	entries := make([]FlowEntry, 0, len(traces))
	for _, tr := range traces {
		preview := tr.Message
		if utf8.RuneCountInString(preview) > 50 {
			preview = firstRunes(preview, 50) + "..."
		}
		entries = append(entries, FlowEntry{
			Timestamp:      tr.Timestamp.Format(time.RFC3339),
			FromState:      tr.FromState,
			ToState:        tr.ToState,
			MessagePreview: preview,
			Intent:         tr.Intent,
			Action:         tr.Action,
			Issues:         tr.Issues,
		})
	}
	return entries
}

func customerRecommendations(traces []Trace, sess SessionSnapshot) []string {
	recs := []string{}
	if !sess.Valid && sess.RecommendedAction != "" {
		recs = append(recs, "Session state issue: "+sess.RecommendedAction)
	}

	var all []string
	for _, tr := range traces {
		all = append(all, tr.Issues...)
	}
	if containsIssue(all, "premature") {
		recs = append(recs, "Fix intent detection logic to prevent premature payment jumps")
	}
	if containsIssue(all, "loop") {
		recs = append(recs, "Add state transition validation to prevent conversation loops")
	}
	if containsIssue(all, "ignored") {
		recs = append(recs, "Review message processing to ensure user input is properly handled")
	}
	if containsIssue(all, "intent") {
		recs = append(recs, "Improve intent detection for better conversation understanding")
	}

	if len(traces) > 10 {
		idle := 0
		for _, tr := range traces {
			if tr.ToState == string(domain.StateIdle) {
				idle++
			}
		}
		if float64(idle) > float64(len(traces))*0.5 {
			recs = append(recs, "High IDLE state frequency suggests conversation flow issues")
		}
	}
	return recs
}

func containsIssue(issues []string, needle string) bool {
	for _, issue := range issues {
		if strings.Contains(strings.ToLower(issue), needle) {
			return true
		}
	}
	return false
}

// CustomerIssues pairs a customer with every issue seen on their traces.
type CustomerIssues struct {
	CustomerID string   `json:"customer_id"`
	Issues     []string `json:"issues"`
}

// IssueCount is one issue string with its occurrence count.
type IssueCount struct {
	Issue string `json:"issue"`
	Count int    `json:"count"`
}

// SystemAnalysis is the flow report across all customers.
type SystemAnalysis struct {
	AnalysisPeriodHours      float64          `json:"analysis_period_hours"`
	TotalInteractions        int              `json:"total_interactions"`
	UniqueCustomers          int              `json:"unique_customers"`
	CustomersWithIssues      int              `json:"customers_with_issues"`
	IssueRate                float64          `json:"issue_rate"`
	StateDistribution        map[string]int   `json:"state_distribution"`
	MostProblematicCustomers []CustomerIssues `json:"most_problematic_customers"`
	CommonIssues             []IssueCount     `json:"common_issues"`
	Recommendations          []string         `json:"recommendations"`
}

// SystemAnalysis aggregates traces across every customer inside the
// window. The issue rate is the share of customers with at least one
// issue, as a percentage.
func (t *Tracer) SystemAnalysis(window time.Duration) SystemAnalysis {
	traces := t.Since(t.now().UTC().Add(-window))

	byCustomer := map[string][]string{}
	stateDist := map[string]int{}
	for _, tr := range traces {
		if _, ok := byCustomer[tr.CustomerID]; !ok {
			byCustomer[tr.CustomerID] = []string{}
		}
		byCustomer[tr.CustomerID] = append(byCustomer[tr.CustomerID], tr.Issues...)
		stateDist[tr.ToState]++
	}

	withIssues := 0
	for _, issues := range byCustomer {
		if len(issues) > 0 {
			withIssues++
		}
	}
	rate := 0.0
	if len(byCustomer) > 0 {
		rate = float64(withIssues) / float64(len(byCustomer)) * 100
	}

	return SystemAnalysis{
		AnalysisPeriodHours:      window.Hours(),
		TotalInteractions:        len(traces),
		UniqueCustomers:          len(byCustomer),
		CustomersWithIssues:      withIssues,
		IssueRate:                rate,
		StateDistribution:        stateDist,
		MostProblematicCustomers: rankCustomers(byCustomer, 10),
		CommonIssues:             rankIssues(traces, 10),
		Recommendations:          systemRecommendations(traces),
	}
}

// rankCustomers orders customers by issue volume, worst first. Ties break
// on customer id so output is stable.
func rankCustomers(byCustomer map[string][]string, limit int) []CustomerIssues {
	ranked := make([]CustomerIssues, 0, len(byCustomer))
	for _, id := range slices.Sorted(maps.Keys(byCustomer)) {
		ranked = append(ranked, CustomerIssues{CustomerID: id, Issues: byCustomer[id]})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return len(ranked[i].Issues) > len(ranked[j].Issues)
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

func rankIssues(traces []Trace, limit int) []IssueCount {
	counts := map[string]int{}
	for _, tr := range traces {
		for _, issue := range tr.Issues {
			counts[issue]++
		}
	}
	ranked := make([]IssueCount, 0, len(counts))
	for _, issue := range slices.Sorted(maps.Keys(counts)) {
		ranked = append(ranked, IssueCount{Issue: issue, Count: counts[issue]})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Count > ranked[j].Count })
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

func systemRecommendations(traces []Trace) []string {
	recs := []string{}

	total := 0
	premature, loops, intents := 0, 0, 0
	for _, tr := range traces {
		for _, issue := range tr.Issues {
			total++
			s := strings.ToLower(issue)
			switch {
			case strings.Contains(s, "premature"):
				premature++
			case strings.Contains(s, "loop"):
				loops++
			case strings.Contains(s, "intent"):
				intents++
			}
		}
	}

	if float64(total) > float64(len(traces))*0.1 {
		recs = append(recs, "High issue rate detected - review conversation flow logic")
	}
	if premature > 5 {
		recs = append(recs, "CRITICAL: Fix premature payment jump issue affecting multiple customers")
	}
	if loops > 3 {
		recs = append(recs, "HIGH: State loop prevention needed")
	}
	if intents > 10 {
		recs = append(recs, "MEDIUM: Intent detection accuracy needs improvement")
	}
	return recs
}

// CustomerIssueTally is a customer with their total issue count.
type CustomerIssueTally struct {
	CustomerID string `json:"customer_id"`
	IssueCount int    `json:"issue_count"`
}

// IssuePatterns groups recent problem traces by issue text, customer,
// and state transition.
type IssuePatterns struct {
	AnalysisPeriodHours         float64              `json:"analysis_period_hours"`
	TotalTracesWithIssues       int                  `json:"total_traces_with_issues"`
	IssueFrequency              []IssueCount         `json:"issue_frequency"`
	CustomersMostAffected       []CustomerIssueTally `json:"customers_most_affected"`
	ProblematicStateTransitions map[string][]string  `json:"problematic_state_transitions"`
}

// IssuePatterns aggregates only the traces that carried issues.
func (t *Tracer) IssuePatterns(window time.Duration) IssuePatterns {
	traces := t.Since(t.now().UTC().Add(-window))

	freq := map[string]int{}
	perCustomer := map[string]int{}
	perTransition := map[string][]string{}
	withIssues := 0

	for _, tr := range traces {
		if len(tr.Issues) == 0 {
			continue
		}
		withIssues++
		for _, issue := range tr.Issues {
			freq[issue]++
		}
		perCustomer[tr.CustomerID] += len(tr.Issues)
		key := fmt.Sprintf("%s -> %s", tr.FromState, tr.ToState)
		perTransition[key] = appendUnique(perTransition[key], tr.Issues...)
	}

	frequency := make([]IssueCount, 0, len(freq))
	for _, issue := range slices.Sorted(maps.Keys(freq)) {
		frequency = append(frequency, IssueCount{Issue: issue, Count: freq[issue]})
	}
	sort.SliceStable(frequency, func(i, j int) bool { return frequency[i].Count > frequency[j].Count })

	affected := make([]CustomerIssueTally, 0, len(perCustomer))
	for _, id := range slices.Sorted(maps.Keys(perCustomer)) {
		affected = append(affected, CustomerIssueTally{CustomerID: id, IssueCount: perCustomer[id]})
	}
	sort.SliceStable(affected, func(i, j int) bool { return affected[i].IssueCount > affected[j].IssueCount })
	if len(affected) > 10 {
		affected = affected[:10]
	}

	return IssuePatterns{
		AnalysisPeriodHours:         window.Hours(),
		TotalTracesWithIssues:       withIssues,
		IssueFrequency:              frequency,
		CustomersMostAffected:       affected,
		ProblematicStateTransitions: perTransition,
	}
}

func appendUnique(dst []string, items ...string) []string {
	for _, item := range items {
		if !slices.Contains(dst, item) {
			dst = append(dst, item)
		}
	}
	return dst
}
