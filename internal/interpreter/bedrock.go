package interpreter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/ppiankov/neurorouter"
)

// converser is the part of the Bedrock runtime client used here.
type converser interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockConfig selects the model and, optionally, static credentials.
// Without keys the default AWS credential chain is used.
type BedrockConfig struct {
	Region          string
	Model           string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	MaxTokens       int32
}

// Bedrock calls the Bedrock Converse API.
type Bedrock struct {
	api       converser
	model     string
	maxTokens int32
}

// NewBedrock loads AWS configuration and builds a runtime client.
func NewBedrock(ctx context.Context, cfg BedrockConfig) (*Bedrock, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newBedrock(bedrockruntime.NewFromConfig(awsCfg), cfg), nil
}

func newBedrock(api converser, cfg BedrockConfig) *Bedrock {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	return &Bedrock{api: api, model: cfg.Model, maxTokens: cfg.MaxTokens}
}

// Generate sends one user turn with the system prompt.
// Throttling is reported as neurorouter.ErrRateLimited.
func (b *Bedrock) Generate(ctx context.Context, req Request) (string, error) {
	out, err := b.api.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(b.model),
		System: []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: SystemPrompt(req.Dialect)},
		},
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: UserPrompt(req)}},
		}},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(b.maxTokens),
			Temperature: aws.Float32(0),
		},
	})
	if err != nil {
		var throttled *types.ThrottlingException
		if errors.As(err, &throttled) {
			return "", fmt.Errorf("bedrock converse: %s: %w", throttled.ErrorMessage(), neurorouter.ErrRateLimited)
		}
		return "", fmt.Errorf("bedrock converse: %w", err)
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", ErrEmptyResponse
	}
	var text strings.Builder
	for _, block := range msg.Value.Content {
		if t, ok := block.(*types.ContentBlockMemberText); ok {
			text.WriteString(t.Value)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", ErrEmptyResponse
	}
	return ExtractSQL(text.String()), nil
}
