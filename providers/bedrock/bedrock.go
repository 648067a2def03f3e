//go:build bedrock
// +build bedrock

// Package bedrock adapts AWS Bedrock's Converse API to the
// capability.Adapter contract. Compiled only with the bedrock build tag so
// deployments that never touch AWS do not carry the SDK.
package bedrock

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/voxlane/maestro/capability"
	"github.com/voxlane/maestro/core"
	"github.com/voxlane/maestro/providers"
)

// Name is the registry name of this provider.
const Name = "bedrock"

const defaultModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"

// Registration declares Bedrock's capabilities and pricing.
func Registration() *capability.ProviderRegistration {
	return &capability.ProviderRegistration{
		ProviderName:   Name,
		ProviderType:   capability.ProviderExternal,
		IsAvailable:    true,
		RequiresAPIKey: false, // AWS credential chain, not an API key
		Capabilities: []capability.CapabilityMetadata{
			{
				Capability:        capability.LLMGeneration,
				ProviderName:      Name,
				CostPerUnit:       3.00,
				OutputCostPerUnit: 15.00,
				CostUnit:          capability.Per1MTokens,
				QualityTier:       capability.TierPremium,
				Priority:          3,
				ModelName:         defaultModel,
			},
			{
				Capability:        capability.Summarization,
				ProviderName:      Name,
				CostPerUnit:       3.00,
				OutputCostPerUnit: 15.00,
				CostUnit:          capability.Per1MTokens,
				QualityTier:       capability.TierPremium,
				Priority:          3,
				ModelName:         defaultModel,
			},
		},
	}
}

// Factory builds Bedrock adapters. Credentials come from the AWS default
// chain; AdapterConfig.APIKey, when set as "keyID:secret", overrides it.
func Factory(cfg capability.AdapterConfig) (capability.Adapter, error) {
	ctx := context.Background()
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.APIKey != "" {
		if id, secret, ok := splitKey(cfg.APIKey); ok {
			loadOpts = append(loadOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(id, secret, "")))
		}
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Adapter{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		model:        model,
		region:       region,
		logger:       logger,
		registration: Registration(),
	}, nil
}

func splitKey(key string) (id, secret string, ok bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i], key[i+1:], true
		}
	}
	return "", "", false
}

// Adapter is the AWS Bedrock capability adapter.
type Adapter struct {
	client       *bedrockruntime.Client
	model        string
	region       string
	logger       core.Logger
	registration *capability.ProviderRegistration
}

func (a *Adapter) Registration() *capability.ProviderRegistration {
	return a.registration
}

// HealthCheck reports client construction; Bedrock has no cheap ping.
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	return a.client != nil
}

func (a *Adapter) Execute(ctx context.Context, cap capability.Capability, input interface{}, options map[string]interface{}) *capability.OperationResult {
	switch cap {
	case capability.LLMGeneration:
		return a.converse(ctx, cap, input, options, "")
	case capability.Summarization:
		return a.converse(ctx, cap, input, options,
			"Summarize the following text concisely, preserving key facts and decisions.")
	default:
		return providers.Unsupported(Name, cap)
	}
}

func (a *Adapter) converse(ctx context.Context, cap capability.Capability, input interface{}, options map[string]interface{}, systemPrompt string) *capability.OperationResult {
	text, ok := providers.TextInput(input)
	if !ok {
		return providers.InvalidInput(Name, cap, "text input is required")
	}
	if sp := providers.StringOption(options, "system_prompt", systemPrompt); sp != "" {
		systemPrompt = sp
	}
	model := providers.StringOption(options, "model", a.model)

	converseInput := &bedrockruntime.ConverseInput{
		ModelId: aws.String(model),
		Messages: []types.Message{{
			Role: types.ConversationRoleUser,
			Content: []types.ContentBlock{
				&types.ContentBlockMemberText{Value: text},
			},
		}},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(int32(providers.IntOption(options, "max_tokens", 1024))),
			Temperature: aws.Float32(float32(providers.FloatOption(options, "temperature", 0.7))),
		},
	}
	if systemPrompt != "" {
		converseInput.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: systemPrompt},
		}
	}

	output, err := a.client.Converse(ctx, converseInput)
	if err != nil {
		code, retryable := capability.ClassifyErrorMessage(err.Error())
		return capability.Failed(Name, cap, err.Error(), code, retryable)
	}

	var content string
	if msg, ok := output.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			if t, ok := block.(*types.ContentBlockMemberText); ok {
				content += t.Value
			}
		}
	}
	if content == "" {
		return capability.Failed(Name, cap, "response contained no text output",
			capability.ErrCodeException, true)
	}

	usage := map[string]float64{}
	if output.Usage != nil {
		usage[capability.UsageInputTokens] = float64(aws.ToInt32(output.Usage.InputTokens))
		usage[capability.UsageOutputTokens] = float64(aws.ToInt32(output.Usage.OutputTokens))
	}
	var cost float64
	if meta := a.registration.Metadata(cap); meta != nil {
		cost = meta.EstimateCost(usage)
	}
	result := capability.Succeeded(Name, cap, map[string]interface{}{"text": content}, usage, cost)
	result.Metadata = map[string]interface{}{
		"model":  model,
		"region": a.region,
	}
	return result
}

var _ capability.Adapter = (*Adapter)(nil)
