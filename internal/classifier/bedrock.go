package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	smithy "github.com/aws/smithy-go"
)

// BedrockConfig configures the AWS Bedrock-backed classifier provider.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ModelID         string
}

// Bedrock implements Classifier via Bedrock's InvokeModel API against an
// Anthropic Claude model hosted on Bedrock, demonstrating the
// provider-agnostic Classifier interface with a second, independent
// backend.
type Bedrock struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrock builds a Bedrock-backed classifier provider.
func NewBedrock(ctx context.Context, cfg BedrockConfig) (*Bedrock, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	var optFns []func(*awsconfig.LoadOptions) error
	optFns = append(optFns, awsconfig.WithRegion(region))
	if cfg.AccessKeyID != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("classifier: bedrock config load failed: %w", err)
	}

	modelID := cfg.ModelID
	if modelID == "" {
		modelID = "anthropic.claude-3-haiku-20240307-v1:0"
	}

	return &Bedrock{
		client:  bedrockruntime.NewFromConfig(awsCfg),
		modelID: modelID,
	}, nil
}

// bedrockAnthropicRequest is the Anthropic-on-Bedrock message wire format.
type bedrockAnthropicRequest struct {
	AnthropicVersion string                    `json:"anthropic_version"`
	MaxTokens        int                       `json:"max_tokens"`
	Messages         []bedrockAnthropicMessage `json:"messages"`
}

type bedrockAnthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockAnthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

func (b *Bedrock) Classify(ctx context.Context, rawText string, prior *Context) (Result, error) {
	payload, err := json.Marshal(bedrockAnthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        256,
		Messages: []bedrockAnthropicMessage{
			{Role: "user", Content: fmt.Sprintf(classifyPrompt, rawText)},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("classifier: bedrock request encode failed: %w", err)
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return Result{}, fmt.Errorf("classifier: bedrock request failed: %s: %w", apiErr.ErrorCode(), err)
		}
		return Result{}, fmt.Errorf("classifier: bedrock request failed: %w", err)
	}

	var parsed bedrockAnthropicResponse
	if err := json.Unmarshal(out.Body, &parsed); err != nil {
		return Result{}, fmt.Errorf("classifier: bedrock response decode failed: %w", err)
	}
	if len(parsed.Content) == 0 {
		return Result{}, fmt.Errorf("classifier: bedrock response had no content")
	}

	result, err := decodeClassifyJSON(parsed.Content[0].Text)
	if err != nil {
		return Result{}, fmt.Errorf("classifier: bedrock response JSON decode failed: %w", err)
	}
	return applyConfidenceFloor(result), nil
}
