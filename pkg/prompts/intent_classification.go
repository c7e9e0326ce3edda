package prompts

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/context-engine/pkg/models"
)

// IntentClassificationSystemMessage frames the classifier role.
const IntentClassificationSystemMessage = "You are a clinical analytics assistant. You classify questions about wound-care data into a structured intent. Respond with JSON only."

// intentDescriptions explains each category to the model.
var intentDescriptions = map[models.IntentType]string{
	models.IntentOutcomeAnalysis:    "results of care such as healing rates, closure times, or amputations",
	models.IntentTrendAnalysis:      "how a measure changes over time",
	models.IntentCohortComparison:   "comparing two or more patient or wound groups",
	models.IntentRiskAssessment:     "identifying patients or wounds at risk of a poor outcome",
	models.IntentQualityImprovement: "documentation completeness, protocol adherence, or care quality gaps",
	models.IntentOperationalMetrics: "volumes, visit counts, staffing, or throughput",
}

// BuildIntentClassificationPrompt creates the prompt for intent classification.
// The expected response is a single JSON object; filters are reported with the
// user's own wording and no resolved value.
func BuildIntentClassificationPrompt(question string) string {
	var prompt strings.Builder

	prompt.WriteString("# Question Intent Classification\n\n")
	prompt.WriteString("Classify the analytics question below.\n\n")

	prompt.WriteString("## Question\n\n")
	prompt.WriteString(fmt.Sprintf("%q\n\n", strings.TrimSpace(question)))

	prompt.WriteString("## Intent Types\n\n")
	for _, it := range models.IntentTypes {
		prompt.WriteString(fmt.Sprintf("- `%s`: %s\n", it, intentDescriptions[it]))
	}
	prompt.WriteString("\n")

	prompt.WriteString("## Instructions\n\n")
	prompt.WriteString("1. Pick exactly one intent type.\n")
	prompt.WriteString("2. `scope` is the population the question is about (e.g. \"patients\", \"wounds\", \"clinics\").\n")
	prompt.WriteString("3. `metrics` are snake_case semantic concepts to compute (e.g. \"healing_rate\", \"wound_area\").\n")
	prompt.WriteString("4. `filters` restrict the population. Use a snake_case `concept`, copy the user's wording into `user_phrase`, and leave `value` null. If the question states a literal value (e.g. \"stage 3\"), put it in `extracted_value`.\n")
	prompt.WriteString("5. `time_range` is present only when the question names a relative window.\n")
	prompt.WriteString("6. `confidence` is a number between 0 and 1.\n\n")

	prompt.WriteString("## Response Format\n\n")
	prompt.WriteString("```json\n")
	prompt.WriteString(`{
  "type": "outcome_analysis",
  "scope": "patients",
  "metrics": ["healing_rate"],
  "filters": [
    {"concept": "wound_etiology", "user_phrase": "diabetic foot ulcers", "operator": "=", "value": null, "extracted_value": null}
  ],
  "time_range": {"unit": "months", "value": 6},
  "confidence": 0.85,
  "reasoning": "Asks for healing outcome of a wound type over a window"
}`)
	prompt.WriteString("\n```\n")

	return prompt.String()
}
