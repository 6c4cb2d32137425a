package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"ledgerflow/internal/storage"
)

const (
	defaultOllamaURL   = "http://127.0.0.1:11434/api/generate"
	defaultOllamaModel = "llama3.1:8b"
	defaultOpenAIModel = "gpt-4.1-mini"
	defaultOpenAIURL   = "https://api.openai.com/v1/chat/completions"
)

var llmClient = &http.Client{Timeout: 20 * time.Second}

func promptFromContext(ctx storage.Doc) string {
	raw, err := json.Marshal(ctx)
	if err != nil {
		raw = []byte("{}")
	}
	return "You are a financial operations analyst for a local-first ledger app.\n" +
		"Write concise, practical insights focused on spending control and next actions.\n" +
		"Keep output under 120 words and avoid disclaimers.\n" +
		"Context JSON:\n" + string(raw)
}

func ollamaGenerate(prompt, model string) (string, error) {
	url := os.Getenv("OLLAMA_URL")
	if url == "" {
		url = defaultOllamaURL
	}
	payload, err := json.Marshal(map[string]any{"model": model, "prompt": prompt, "stream": false})
	if err != nil {
		return "", err
	}
	resp, err := llmClient.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("ollama response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("ollama request failed: status %d", resp.StatusCode)
	}
	var data struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return "", fmt.Errorf("ollama response: %w", err)
	}
	text := strings.TrimSpace(data.Response)
	if text == "" {
		return "", fmt.Errorf("empty output from ollama")
	}
	return text, nil
}

func openaiGenerate(prompt, model string) (string, error) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return "", fmt.Errorf("OPENAI_API_KEY not set")
	}
	url := os.Getenv("OPENAI_BASE_URL")
	if url == "" {
		url = defaultOpenAIURL
	}
	payload, err := json.Marshal(map[string]any{
		"model":      model,
		"messages":   []map[string]any{{"role": "user", "content": prompt}},
		"max_tokens": 400,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)
	resp, err := llmClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("openai response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("openai request failed: status %d", resp.StatusCode)
	}
	var data struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return "", fmt.Errorf("openai response: %w", err)
	}
	if len(data.Choices) == 0 {
		return "", fmt.Errorf("empty output from OpenAI")
	}
	text := strings.TrimSpace(data.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty output from OpenAI")
	}
	return text, nil
}

// generateNarrative tries the requested provider and returns the narrative
// text, the provider that produced it, and an error message suitable for the
// llmError field when all providers fail.
func generateNarrative(requested, model string, ctx storage.Doc) (text, provider, errMsg string) {
	prompt := promptFromContext(ctx)

	switch requested {
	case "openai":
		name := model
		if name == "" {
			name = defaultOpenAIModel
		}
		out, err := openaiGenerate(prompt, name)
		if err != nil {
			return "", "", err.Error()
		}
		return out, "openai", ""
	case "ollama":
		name := model
		if name == "" {
			name = os.Getenv("OLLAMA_MODEL")
		}
		if name == "" {
			name = defaultOllamaModel
		}
		out, err := ollamaGenerate(prompt, name)
		if err != nil {
			return "", "", err.Error()
		}
		return out, "ollama", ""
	case "auto":
		nameOllama := model
		if nameOllama == "" {
			nameOllama = os.Getenv("OLLAMA_MODEL")
		}
		if nameOllama == "" {
			nameOllama = defaultOllamaModel
		}
		out, errOllama := ollamaGenerate(prompt, nameOllama)
		if errOllama == nil {
			return out, "ollama", ""
		}
		nameOpenAI := model
		if nameOpenAI == "" {
			nameOpenAI = defaultOpenAIModel
		}
		out2, errOpenAI := openaiGenerate(prompt, nameOpenAI)
		if errOpenAI == nil {
			return out2, "openai", ""
		}
		return "", "", fmt.Sprintf("ollama: %v; openai: %v", errOllama, errOpenAI)
	}
	return "", "", "unsupported provider"
}
