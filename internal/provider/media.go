package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Media methods on the OpenAI provider. These back the image generation and
// image description capabilities; they use the same API base and key as Chat.

type imageGenRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format"`
}

type imageGenResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// GenerateImage renders a prompt into a PNG via the images endpoint.
func (o *OpenAI) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	body, err := json.Marshal(imageGenRequest{
		Model:          "dall-e-3",
		Prompt:         prompt,
		N:              1,
		Size:           "1024x1024",
		ResponseFormat: "b64_json",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.apiBase+"/images/generations", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image generation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("image generation %d: %s", resp.StatusCode, string(respBody))
	}

	var genResp imageGenResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(genResp.Data) == 0 {
		return nil, fmt.Errorf("image generation returned no images")
	}
	return base64.StdEncoding.DecodeString(genResp.Data[0].B64JSON)
}

// DescribeImage sends an image inline as a data URI to a vision-capable chat
// model and returns the model's description.
func (o *OpenAI) DescribeImage(ctx context.Context, image []byte, mime, prompt string) (string, error) {
	if mime == "" {
		mime = "image/jpeg"
	}
	dataURI := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(image))

	body, err := json.Marshal(map[string]any{
		"model": o.model,
		"messages": []map[string]any{{
			"role": "user",
			"content": []map[string]any{
				{"type": "text", "text": prompt},
				{"type": "image_url", "image_url": map[string]any{"url": dataURI}},
			},
		}},
		"max_tokens": 1024,
	})
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.apiBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("vision request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("vision %d: %s", resp.StatusCode, string(respBody))
	}

	var visionResp oaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&visionResp); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if len(visionResp.Choices) == 0 {
		return "", fmt.Errorf("vision returned no choices")
	}
	return visionResp.Choices[0].Message.Content, nil
}
