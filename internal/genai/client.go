/*
 * Copyright 2025 Google LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *    https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package genai

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gemini-1.5-flash-latest"

// geminiClient implements the LLMClient interface using the Google Gemini API.
type geminiClient struct {
	client *genai.Client
	cfg    Config
}

// LLMClient defines the interface for interacting with a generative AI model.
type LLMClient interface {
	// ClassifyColumn returns the sdtype ("categorical" or "id") a text column
	// should be modeled as.
	ClassifyColumn(ctx context.Context, tableName, columnName, dataType string, examples []string) (string, error)

	// IsAPIKeyValid checks if the configured API key is functional.
	IsAPIKeyValid(ctx context.Context) error

	// Close cleans up any resources used by the client.
	Close() error
}

// Config holds configuration for the GenAI client.
type Config struct {
	APIKey string
	Model  string
	// AdditionalContext is appended to every prompt, e.g. a schema description.
	AdditionalContext string
}

// NewClient creates a new Gemini client.
func NewClient(ctx context.Context, cfg Config) (LLMClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("cannot create Gemini client: API key is missing")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	if cfg.Model == "" {
		cfg.Model = DefaultModel
		zap.L().Info("Gemini model not specified, using default", zap.String("model", cfg.Model))
	}

	return &geminiClient{
		client: client,
		cfg:    cfg,
	}, nil
}

// Close cleans up the underlying Gemini client.
func (c *geminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAPIKeyValid checks if the Gemini API key is valid by listing models.
func (c *geminiClient) IsAPIKeyValid(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("gemini client not initialized (likely missing API key)")
	}

	modelIterator := c.client.ListModels(ctx)
	_, err := modelIterator.Next()
	if err != nil {
		if st, ok := status.FromError(err); ok {
			if st.Code() == codes.Unauthenticated || st.Code() == codes.PermissionDenied {
				return fmt.Errorf("invalid Gemini API key or insufficient permissions: %w", err)
			}
		}
		return fmt.Errorf("failed to verify Gemini API key by listing models: %w", err)
	}
	return nil
}

// ClassifyColumn asks the model whether a text column holds a small set of
// repeated labels or per-row identifiers.
func (c *geminiClient) ClassifyColumn(ctx context.Context, tableName, columnName, dataType string, examples []string) (string, error) {
	if c.client == nil {
		return "", fmt.Errorf("gemini client not initialized")
	}

	prompt := BuildClassificationPrompt(tableName, columnName, dataType, examples)
	if c.cfg.AdditionalContext != "" {
		prompt += "\n**Additional Context:**\n" + c.cfg.AdditionalContext
	}

	model := c.client.GenerativeModel(c.cfg.Model)
	model.SetTemperature(0.0)
	model.SetMaxOutputTokens(50)
	model.SetTopP(0.9)
	model.SetTopK(40)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("Gemini API call failed: %w", err)
	}

	text, err := getFirstTextPart(resp)
	if err != nil {
		return "", err
	}
	sdtype, err := ParseSDType(text)
	if err != nil {
		zap.L().Warn("could not parse Gemini classification",
			zap.String("table", tableName), zap.String("column", columnName), zap.Error(err))
		return "", err
	}
	zap.L().Debug("classified column", zap.String("table", tableName), zap.String("column", columnName),
		zap.String("sdtype", sdtype), zap.String("model", c.cfg.Model))
	return sdtype, nil
}

// BuildClassificationPrompt renders the column classification prompt.
func BuildClassificationPrompt(tableName, columnName, dataType string, examples []string) string {
	return fmt.Sprintf(`
	You are preparing a relational table for statistical modeling. Classify the following text column.

	**Column Information:**
	- Table Name: %s
	- Column Name: %s
	- Data Type: %s
	- Example Values: [%s]

	**Instructions:**
	1. Answer "categorical" if the column holds a limited set of labels that repeat across rows (e.g. country, status, device).
	2. Answer "id" if the column identifies or is unique to a row or entity (e.g. emails, codes, names, tokens).
	3. Output ONLY the answer enclosed in <sdtype></sdtype> tags.

	**Example Output:** <sdtype>categorical</sdtype>
	`, tableName, columnName, dataType, strings.Join(examples, ", "))
}

// ParseSDType extracts the sdtype answer from a model response.
func ParseSDType(text string) (string, error) {
	content, found := extractContentBetween(text, "<sdtype>", "</sdtype>")
	if !found {
		return "", fmt.Errorf("tags '<sdtype>' and '</sdtype>' not found in response")
	}
	switch answer := strings.ToLower(content); answer {
	case "categorical", "id":
		return answer, nil
	default:
		return "", fmt.Errorf("unexpected sdtype %q in response", content)
	}
}

// getFirstTextPart extracts the first text part from a Gemini response.
func getFirstTextPart(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		finishReason := "unknown"
		safetyRatings := "none"
		if resp != nil && len(resp.Candidates) > 0 {
			finishReason = resp.Candidates[0].FinishReason.String()
			if resp.Candidates[0].SafetyRatings != nil {
				safetyRatings = fmt.Sprintf("%v", resp.Candidates[0].SafetyRatings)
			}
		}
		return "", fmt.Errorf("empty or incomplete response from Gemini API. FinishReason: %s, SafetyRatings: %s", finishReason, safetyRatings)
	}
	part := resp.Candidates[0].Content.Parts[0]
	text, ok := part.(genai.Text)
	if !ok {
		return "", fmt.Errorf("unexpected response part type: %T", part)
	}
	return string(text), nil
}

// extractContentBetween extracts content between start and end tags from a string.
func extractContentBetween(text, startTag, endTag string) (string, bool) {
	startIndex := strings.Index(text, startTag)
	if startIndex == -1 {
		return "", false
	}
	startIndex += len(startTag)
	endIndex := strings.Index(text[startIndex:], endTag)
	if endIndex == -1 {
		return "", false
	}
	return strings.TrimSpace(text[startIndex : startIndex+endIndex]), true
}
