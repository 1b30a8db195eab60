package agents

import (
	"strings"
)

// Profile is what can be inferred about a task from its description.
type Profile struct {
	Type             string     `json:"type"`
	Complexity       Complexity `json:"complexity"`
	EstimatedTokens  int        `json:"estimated_tokens"`
	RequiresContext  bool       `json:"requires_context"`
	TimeSensitive    bool       `json:"time_sensitive"`
	AccuracyCritical bool       `json:"accuracy_critical"`
}

// Request builds a TaskRequest from the profile.
func (p Profile) Request(id, subscription string) TaskRequest {
	return TaskRequest{
		ID:              id,
		Type:            p.Type,
		Size:            p.Complexity,
		EstimatedTokens: p.EstimatedTokens,
		Subscription:    subscription,
	}
}

type keywordGroup[T any] struct {
	value    T
	keywords []string
}

// taskTypes are checked in order; the first group with a hit wins.
var taskTypes = []keywordGroup[string]{
	{"completion", []string{"complete", "finish", "autocomplete"}},
	{"debugging", []string{"debug", "fix", "error", "bug"}},
	{"refactoring", []string{"refactor", "improve", "optimize", "clean"}},
	{"generation", []string{"create", "generate", "build", "implement"}},
	{"explanation", []string{"explain", "document", "comment", "describe"}},
	{"review", []string{"review", "analyze", "check", "validate"}},
}

// complexityLevels are checked in order; the last group with a hit wins.
var complexityLevels = []keywordGroup[Complexity]{
	{ComplexitySimple, []string{"typo", "syntax", "import", "variable"}},
	{ComplexityMedium, []string{"function", "class", "method", "refactor"}},
	{ComplexityComplex, []string{"architecture", "design", "system", "integration"}},
	{ComplexityCritical, []string{"performance", "security", "production", "optimize"}},
}

var complexityMultiplier = map[Complexity]float64{
	ComplexitySimple:   1.2,
	ComplexityMedium:   2.0,
	ComplexityComplex:  4.0,
	ComplexityCritical: 6.0,
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// Analyze derives task type, complexity and a token estimate from a free
// text description and the size of the attached context in characters.
func Analyze(description string, contextLen int) Profile {
	desc := strings.ToLower(description)

	taskType := "general"
	for _, g := range taskTypes {
		if containsAny(desc, g.keywords) {
			taskType = g.value
			break
		}
	}

	complexity := ComplexitySimple
	for _, g := range complexityLevels {
		if containsAny(desc, g.keywords) {
			complexity = g.value
		}
	}

	if taskType == "refactoring" && complexity >= ComplexityComplex {
		taskType = "large-refactor"
	}

	return Profile{
		Type:             taskType,
		Complexity:       complexity,
		EstimatedTokens:  EstimateTokens(description, contextLen, complexity),
		RequiresContext:  contextLen > 1000,
		TimeSensitive:    containsAny(desc, []string{"urgent", "quick", "fast"}),
		AccuracyCritical: containsAny(desc, []string{"production", "critical", "important"}),
	}
}

// EstimateTokens approximates the tokens a task will consume: about 1.3
// per description word plus 0.75 per context character, scaled by
// complexity.
func EstimateTokens(description string, contextLen int, c Complexity) int {
	base := float64(len(strings.Fields(description))) * 1.3
	ctx := float64(contextLen) * 0.75
	mult, ok := complexityMultiplier[c]
	if !ok {
		mult = complexityMultiplier[ComplexityMedium]
	}
	return int((base + ctx) * mult)
}
