package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/context-engine/pkg/apperrors"
	"github.com/ekaya-inc/context-engine/pkg/cache"
	"github.com/ekaya-inc/context-engine/pkg/jsonutil"
	"github.com/ekaya-inc/context-engine/pkg/llm"
	"github.com/ekaya-inc/context-engine/pkg/logging"
	"github.com/ekaya-inc/context-engine/pkg/models"
	"github.com/ekaya-inc/context-engine/pkg/prompts"
)

// FallbackIntentConfidence is the confidence of the intent substituted when
// classification fails.
const FallbackIntentConfidence = 0.1

// IntentClassifier turns a question into a structured intent.
type IntentClassifier interface {
	// Classify never fails on recoverable provider or parsing errors; it
	// returns a degraded fallback intent instead. Only cancellation of ctx
	// is returned as an error.
	Classify(ctx context.Context, customerID, question, modelID string) (*models.IntentResult, error)
}

// IntentClassifierConfig tunes the classifier.
type IntentClassifierConfig struct {
	Temperature float64
	CacheTTL    time.Duration
	Breaker     llm.CircuitBreakerConfig
}

type intentClassifier struct {
	factory llm.LLMClientFactory
	cache   cache.Provider
	cfg     IntentClassifierConfig
	logger  *zap.Logger

	mu       sync.Mutex
	breakers map[string]*llm.CircuitBreaker
}

// NewIntentClassifier creates an IntentClassifier. A nil cache disables caching.
func NewIntentClassifier(factory llm.LLMClientFactory, responses cache.Provider, cfg IntentClassifierConfig, logger *zap.Logger) IntentClassifier {
	if responses == nil {
		responses = cache.NoopProvider{}
	}
	return &intentClassifier{
		factory:  factory,
		cache:    responses,
		cfg:      cfg,
		logger:   logger.Named("intent-classifier"),
		breakers: make(map[string]*llm.CircuitBreaker),
	}
}

var _ IntentClassifier = (*intentClassifier)(nil)

func (c *intentClassifier) Classify(ctx context.Context, customerID, question, modelID string) (*models.IntentResult, error) {
	question = strings.TrimSpace(question)
	key := classificationCacheKey(customerID, modelID, question)

	if cached, ok := c.fromCache(ctx, key); ok {
		return cached, nil
	}

	client, err := c.factory.ClientFor(modelID)
	if err != nil {
		return c.fallback(ctx, question, err)
	}

	breaker := c.breakerFor(client.Endpoint() + "|" + client.Model())
	if err := breaker.Allow(); err != nil {
		return c.fallback(ctx, question, err)
	}

	result, err := client.Complete(ctx, llm.CompletionRequest{
		System:      prompts.IntentClassificationSystemMessage,
		Prompt:      prompts.BuildIntentClassificationPrompt(question),
		Temperature: c.cfg.Temperature,
		JSONOutput:  true,
	})
	breaker.Record(err)
	if err != nil {
		return c.fallback(ctx, question, err)
	}

	parsed, err := llm.ParseJSONResponse[intentResponse](result.Content)
	if err != nil {
		return c.fallback(ctx, question, err)
	}

	intent := parsed.toIntent()
	c.store(ctx, key, intent)

	c.logger.Debug("Classified question",
		zap.String("customer_id", customerID),
		zap.String("model", client.Model()),
		zap.String("type", string(intent.Type)),
		zap.Float64("confidence", intent.Confidence),
		zap.Int("total_tokens", result.TotalTokens()))
	return intent, nil
}

func (c *intentClassifier) breakerFor(name string) *llm.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[name]
	if !ok {
		b = llm.NewCircuitBreaker(name, c.cfg.Breaker)
		c.breakers[name] = b
	}
	return b
}

// fallback absorbs a classification failure into a degraded intent. Caller
// cancellation is the one failure that is not absorbed.
func (c *intentClassifier) fallback(ctx context.Context, question string, cause error) (*models.IntentResult, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		kind := apperrors.KindCanceled
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			kind = apperrors.KindTimeout
		}
		return nil, apperrors.Wrap(kind, "classify_intent", ctxErr)
	}

	c.logger.Warn("Intent classification degraded, using fallback intent",
		zap.String("error_type", string(llm.GetErrorType(cause))),
		zap.String("error", logging.SanitizeError(cause)))
	return FallbackIntent(question, apperrors.Wrap(apperrors.KindClassificationDegraded, "classify_intent", cause)), nil
}

func (c *intentClassifier) fromCache(ctx context.Context, key string) (*models.IntentResult, bool) {
	raw, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Debug("Classification cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var intent models.IntentResult
	if err := json.Unmarshal(raw, &intent); err != nil {
		return nil, false
	}
	return &intent, true
}

func (c *intentClassifier) store(ctx context.Context, key string, intent *models.IntentResult) {
	raw, err := json.Marshal(intent)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, raw, c.cfg.CacheTTL); err != nil {
		c.logger.Debug("Classification cache write failed", zap.Error(err))
	}
}

func classificationCacheKey(customerID, modelID, question string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(question)))
	return "intent:" + customerID + "|" + strings.ToLower(strings.TrimSpace(modelID)) + "|" + hex.EncodeToString(sum[:])
}

// intentKeywords picks a fallback intent type from question wording. Checked in order.
var intentKeywords = []struct {
	intent   models.IntentType
	keywords []string
}{
	{models.IntentTrendAnalysis, []string{"trend", "over time", "month over month", "by month", "by quarter"}},
	{models.IntentCohortComparison, []string{"compare", "comparison", " vs ", "versus", "between"}},
	{models.IntentRiskAssessment, []string{"risk", "likely", "predict"}},
	{models.IntentQualityImprovement, []string{"documentation", "compliance", "adherence", "missing", "quality"}},
	{models.IntentOperationalMetrics, []string{"how many", "count", "volume", "visits", "staff"}},
}

// FallbackIntent is the safe default used when classification fails: a
// keyword-picked type, no metrics or filters, and confidence 0.1.
func FallbackIntent(question string, cause error) *models.IntentResult {
	q := " " + strings.ToLower(question) + " "
	intentType := models.IntentOutcomeAnalysis
	for _, k := range intentKeywords {
		if containsAny(q, k.keywords) {
			intentType = k.intent
			break
		}
	}

	reasoning := "classification unavailable"
	if cause != nil {
		reasoning = fmt.Sprintf("classification unavailable: %s", apperrors.KindOf(cause))
	}
	return &models.IntentResult{
		Type:       intentType,
		Metrics:    []string{},
		Filters:    []models.IntentFilter{},
		Confidence: FallbackIntentConfidence,
		Reasoning:  reasoning,
		Degraded:   true,
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// intentResponse is the classifier's JSON contract, validated at the boundary.
type intentResponse struct {
	Type       string                 `json:"type"`
	Scope      string                 `json:"scope"`
	Metrics    []string               `json:"metrics"`
	Filters    []intentFilterResponse `json:"filters"`
	TimeRange  *timeRangeResponse     `json:"time_range"`
	Confidence jsonutil.FlexibleFloat `json:"confidence"`
	Reasoning  string                 `json:"reasoning"`
}

type intentFilterResponse struct {
	Concept        string                  `json:"concept"`
	UserPhrase     string                  `json:"user_phrase"`
	Field          string                  `json:"field"`
	Operator       string                  `json:"operator"`
	ExtractedValue jsonutil.FlexibleString `json:"extracted_value"`
}

type timeRangeResponse struct {
	Unit  string                 `json:"unit"`
	Value jsonutil.FlexibleFloat `json:"value"`
}

// Validate implements llm.Validator.
func (r *intentResponse) Validate() error {
	t := models.IntentType(strings.ToLower(strings.TrimSpace(r.Type)))
	if !t.Valid() {
		return fmt.Errorf("unknown intent type %q", r.Type)
	}
	if !r.Confidence.Valid {
		return fmt.Errorf("confidence is missing or not a number")
	}
	return nil
}

// toIntent normalizes the validated response. Filter values always start unresolved.
func (r *intentResponse) toIntent() *models.IntentResult {
	intent := &models.IntentResult{
		Type:       models.IntentType(strings.ToLower(strings.TrimSpace(r.Type))),
		Scope:      strings.TrimSpace(r.Scope),
		Metrics:    []string{},
		Filters:    []models.IntentFilter{},
		Confidence: clamp01(r.Confidence.Value),
		Reasoning:  strings.TrimSpace(r.Reasoning),
	}

	seen := make(map[string]bool)
	for _, m := range r.Metrics {
		m = strings.TrimSpace(m)
		if m != "" && !seen[m] {
			seen[m] = true
			intent.Metrics = append(intent.Metrics, m)
		}
	}

	for _, f := range r.Filters {
		concept := strings.TrimSpace(f.Concept)
		phrase := strings.TrimSpace(f.UserPhrase)
		if concept == "" && phrase == "" {
			continue
		}
		filter := models.IntentFilter{
			Concept:    concept,
			UserPhrase: phrase,
			Field:      strings.TrimSpace(f.Field),
			Operator:   strings.TrimSpace(f.Operator),
		}
		if v := f.ExtractedValue.Ptr(); v != nil && strings.TrimSpace(*v) != "" {
			trimmed := strings.TrimSpace(*v)
			filter.ExtractedValue = &trimmed
		}
		intent.Filters = append(intent.Filters, filter)
	}

	if r.TimeRange != nil && r.TimeRange.Unit != "" && r.TimeRange.Value.Valid && r.TimeRange.Value.Value > 0 {
		intent.TimeRange = &models.TimeRange{
			Unit:  strings.ToLower(strings.TrimSpace(r.TimeRange.Unit)),
			Value: int(r.TimeRange.Value.Value),
		}
	}
	return intent
}
