// Package capability defines the provider discovery and routing layer: the
// closed set of AI capabilities, per-provider capability metadata with cost
// arithmetic, the uniform adapter contract, and the registry that maps
// capabilities to concrete providers and builds fallback chains.
package capability

// Capability is an abstract AI function a provider may offer.
// Identity is the string tag.
type Capability string

const (
	Transcription            Capability = "TRANSCRIPTION"
	TranscriptionDiarization Capability = "TRANSCRIPTION_DIARIZATION"
	TranscriptionDualChannel Capability = "TRANSCRIPTION_DUAL_CHANNEL"
	LLMGeneration            Capability = "LLM_GENERATION"
	LLMStructured            Capability = "LLM_STRUCTURED"
	LLMStreaming             Capability = "LLM_STREAMING"
	Summarization            Capability = "SUMMARIZATION"
	SentimentAnalysis        Capability = "SENTIMENT_ANALYSIS"
	CoachingAnalysis         Capability = "COACHING_ANALYSIS"
	PIIDetection             Capability = "PII_DETECTION"
	PIIRedaction             Capability = "PII_REDACTION"
	Embedding                Capability = "EMBEDDING"
)

// AllCapabilities lists every defined capability tag.
func AllCapabilities() []Capability {
	return []Capability{
		Transcription,
		TranscriptionDiarization,
		TranscriptionDualChannel,
		LLMGeneration,
		LLMStructured,
		LLMStreaming,
		Summarization,
		SentimentAnalysis,
		CoachingAnalysis,
		PIIDetection,
		PIIRedaction,
		Embedding,
	}
}

// CostUnit governs how CapabilityMetadata.EstimateCost interprets usage.
type CostUnit string

const (
	Per1KTokens  CostUnit = "PER_1K_TOKENS"
	Per1MTokens  CostUnit = "PER_1M_TOKENS"
	PerMinute    CostUnit = "PER_MINUTE"
	PerSecond    CostUnit = "PER_SECOND"
	PerCharacter CostUnit = "PER_CHARACTER"
	PerRequest   CostUnit = "PER_REQUEST"
	Free         CostUnit = "FREE"
)

// QualityTier classifies provider offerings for quality-aware routing.
type QualityTier string

const (
	TierEconomy  QualityTier = "ECONOMY"
	TierStandard QualityTier = "STANDARD"
	TierPremium  QualityTier = "PREMIUM"
)

// rank returns the ordering value of a tier (ECONOMY < STANDARD < PREMIUM).
// Unknown tiers rank below ECONOMY.
func (q QualityTier) rank() int {
	switch q {
	case TierEconomy:
		return 1
	case TierStandard:
		return 2
	case TierPremium:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether q meets or exceeds min.
func (q QualityTier) AtLeast(min QualityTier) bool {
	return q.rank() >= min.rank()
}

// ProviderType distinguishes external SaaS providers from internal services.
type ProviderType string

const (
	ProviderExternal ProviderType = "EXTERNAL"
	ProviderInternal ProviderType = "INTERNAL"
	ProviderHybrid   ProviderType = "HYBRID"
)

// Error codes surfaced on OperationResult.ErrorCode and into events/metrics.
const (
	ErrCodeInvalidInput          = "INVALID_INPUT"
	ErrCodeUnsupportedCapability = "UNSUPPORTED_CAPABILITY"
	ErrCodeTimeout               = "TIMEOUT"
	ErrCodeException             = "EXCEPTION"
	ErrCodeNoProviders           = "NO_PROVIDERS"
	ErrCodeMaxRetries            = "MAX_RETRIES"
	ErrCodeRateLimit             = "RATE_LIMIT"
	ErrCodeServiceUnavailable    = "SERVICE_UNAVAILABLE"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
)

// Usage map keys adapters must populate for the cost units that need them.
const (
	UsageInputTokens    = "input_tokens"
	UsageOutputTokens   = "output_tokens"
	UsageDurationSecs   = "duration_seconds"
	UsageCharacterCount = "character_count"
	UsageRequestCount   = "request_count"
)
