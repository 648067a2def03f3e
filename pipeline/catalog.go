package pipeline

import (
	"fmt"
	"sort"
	"time"

	"github.com/voxlane/maestro/capability"
	"github.com/voxlane/maestro/core"
)

// CatalogOptions is the option bag for prebuilt pipelines. Zero values mean
// "use the pipeline's default".
type CatalogOptions struct {
	// Language hint passed to transcription and PII steps.
	Language string
	// Diarize enables speaker diarization on transcription steps.
	Diarize bool
	// PreferredProviders leads each step's fallback chain when the provider
	// offers the step capability.
	PreferredProviders []string
	// QualityTier is the minimum tier for every step.
	QualityTier capability.QualityTier
	// SummaryStyle selects the summarization prompt style (e.g. "bullets").
	SummaryStyle string
	// PIIEntities limits PII detection/redaction to the given entity types.
	PIIEntities []string
}

// PipelineInfo is the catalog metadata for one prebuilt pipeline.
type PipelineInfo struct {
	Name                 string                  `json:"name"`
	Version              string                  `json:"version"`
	Description          string                  `json:"description"`
	Tags                 []string                `json:"tags"`
	StepCount            int                     `json:"step_count"`
	EstimatedDuration    time.Duration           `json:"estimated_duration"`
	RequiredCapabilities []capability.Capability `json:"required_capabilities"`
}

type catalogBuilder func(opts CatalogOptions) *PipelineBuilder

// catalog maps pipeline names to their builders. Builders return a fresh
// definition on every call so callers can mutate options freely.
var catalog = map[string]catalogBuilder{
	"transcription":                buildTranscription,
	"transcription_with_redaction": buildTranscriptionWithRedaction,
	"call_analysis":                buildCallAnalysis,
	"dual_channel_analysis":        buildDualChannelAnalysis,
	"pii_detection":                buildPIIDetection,
	"text_summarization":           buildTextSummarization,
}

// GetPipeline returns a fresh definition of a prebuilt pipeline.
func GetPipeline(name string, opts CatalogOptions) (*PipelineDefinition, error) {
	build, ok := catalog[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown pipeline %q", core.ErrPipelineInvalid, name)
	}
	return build(opts).Build()
}

// ListPipelines returns metadata for every prebuilt pipeline, sorted by name.
func ListPipelines() []PipelineInfo {
	out := make([]PipelineInfo, 0, len(catalog))
	for name, build := range catalog {
		def, err := build(CatalogOptions{}).Build()
		if err != nil {
			// Catalog entries are static; a build failure here is a bug.
			panic(fmt.Sprintf("catalog pipeline %s: %v", name, err))
		}
		caps := make([]capability.Capability, 0, len(def.Steps))
		seen := make(map[capability.Capability]bool)
		for i := range def.Steps {
			if c := def.Steps[i].Capability; !seen[c] {
				seen[c] = true
				caps = append(caps, c)
			}
		}
		out = append(out, PipelineInfo{
			Name:                 name,
			Version:              def.Version,
			Description:          def.Description,
			Tags:                 def.Tags,
			StepCount:            len(def.Steps),
			EstimatedDuration:    def.EstimatedDuration,
			RequiredCapabilities: caps,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func transcribeOptions(opts CatalogOptions) map[string]interface{} {
	o := map[string]interface{}{}
	if opts.Language != "" {
		o["language"] = opts.Language
	}
	if opts.Diarize {
		o["diarize"] = true
	}
	return o
}

func applyStepDefaults(s *StepBuilder, opts CatalogOptions) *StepBuilder {
	if len(opts.PreferredProviders) > 0 {
		s.Providers(opts.PreferredProviders...)
	}
	if opts.QualityTier != "" {
		s.RequireQuality(opts.QualityTier)
	}
	return s
}

func buildTranscription(opts CatalogOptions) *PipelineBuilder {
	cap := capability.Transcription
	if opts.Diarize {
		cap = capability.TranscriptionDiarization
	}
	b := NewPipeline("transcription").
		Description("Transcribe an audio recording to text").
		Tags("audio", "transcription").
		EstimatedDuration(30 * time.Second)
	applyStepDefaults(b.Step("transcribe").Capability(cap), opts).
		Options(transcribeOptions(opts)).
		InputFrom("audio_url").
		OutputAs("transcript").
		Done()
	return b
}

func buildTranscriptionWithRedaction(opts CatalogOptions) *PipelineBuilder {
	cap := capability.Transcription
	if opts.Diarize {
		cap = capability.TranscriptionDiarization
	}
	b := NewPipeline("transcription_with_redaction").
		Description("Transcribe audio, then redact PII from the transcript").
		Tags("audio", "transcription", "pii").
		Checkpoints("transcribe").
		EstimatedDuration(45 * time.Second)
	applyStepDefaults(b.Step("transcribe").Capability(cap), opts).
		Options(transcribeOptions(opts)).
		InputFrom("audio_url").
		OutputAs("transcript").
		Done()
	redact := applyStepDefaults(b.Step("redact").Capability(capability.PIIRedaction), opts).
		InputFrom("transcript").
		OutputAs("redacted_transcript")
	if len(opts.PIIEntities) > 0 {
		redact.Option("entities", opts.PIIEntities)
	}
	redact.Done()
	return b
}

func buildCallAnalysis(opts CatalogOptions) *PipelineBuilder {
	b := NewPipeline("call_analysis").
		Description("Transcribe a call and analyze sentiment, summary, and coaching points").
		Tags("audio", "analysis", "coaching").
		Checkpoints("transcribe").
		EstimatedDuration(90 * time.Second)
	applyStepDefaults(b.Step("transcribe").Capability(capability.TranscriptionDiarization), opts).
		Options(transcribeOptions(opts)).
		InputFrom("audio_url").
		OutputAs("transcript").
		Done()
	applyStepDefaults(b.Step("sentiment").Capability(capability.SentimentAnalysis), opts).
		InputFrom("transcript").
		OutputAs("sentiment").
		Optional().
		Done()
	summary := applyStepDefaults(b.Step("summarize").Capability(capability.Summarization), opts).
		InputFrom("transcript").
		OutputAs("summary")
	if opts.SummaryStyle != "" {
		summary.Option("style", opts.SummaryStyle)
	}
	summary.Done()
	applyStepDefaults(b.Step("coaching").Capability(capability.CoachingAnalysis), opts).
		InputFrom("transcript").
		OutputAs("coaching").
		Optional().
		Done()
	return b
}

func buildDualChannelAnalysis(opts CatalogOptions) *PipelineBuilder {
	b := NewPipeline("dual_channel_analysis").
		Description("Transcribe a dual-channel recording and analyze each party").
		Tags("audio", "analysis", "dual-channel").
		Checkpoints("transcribe").
		EstimatedDuration(120 * time.Second)
	applyStepDefaults(b.Step("transcribe").Capability(capability.TranscriptionDualChannel), opts).
		Options(transcribeOptions(opts)).
		InputFrom("audio_url").
		OutputAs("transcript").
		Done()
	applyStepDefaults(b.Step("sentiment").Capability(capability.SentimentAnalysis), opts).
		InputFrom("transcript").
		OutputAs("sentiment").
		Optional().
		Done()
	summary := applyStepDefaults(b.Step("summarize").Capability(capability.Summarization), opts).
		InputFrom("transcript").
		OutputAs("summary")
	if opts.SummaryStyle != "" {
		summary.Option("style", opts.SummaryStyle)
	}
	summary.Done()
	return b
}

func buildPIIDetection(opts CatalogOptions) *PipelineBuilder {
	b := NewPipeline("pii_detection").
		Description("Detect PII entities in text").
		Tags("pii", "compliance").
		EstimatedDuration(5 * time.Second)
	detect := applyStepDefaults(b.Step("detect").Capability(capability.PIIDetection), opts).
		InputFrom("text").
		OutputAs("pii_entities")
	if len(opts.PIIEntities) > 0 {
		detect.Option("entities", opts.PIIEntities)
	}
	if opts.Language != "" {
		detect.Option("language", opts.Language)
	}
	detect.Done()
	return b
}

func buildTextSummarization(opts CatalogOptions) *PipelineBuilder {
	b := NewPipeline("text_summarization").
		Description("Summarize a block of text").
		Tags("text", "summarization").
		EstimatedDuration(15 * time.Second)
	summary := applyStepDefaults(b.Step("summarize").Capability(capability.Summarization), opts).
		InputFrom("text").
		OutputAs("summary")
	if opts.SummaryStyle != "" {
		summary.Option("style", opts.SummaryStyle)
	}
	summary.Done()
	return b
}
