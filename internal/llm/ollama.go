package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/essay-grader/backend/pkg/logger"
)

const (
	ollamaGeneratePath = "/api/generate"
	maxStreamLine      = 2 * 1024 * 1024
)

type OllamaBackend struct {
	httpClient *http.Client
	baseURL    string
	opts       GenerationOptions
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	System  string        `json:"system,omitempty"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float32 `json:"temperature"`
}

type ollamaChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// NewOllamaBackend talks to an Ollama server's generate endpoint. A nil
// httpClient gets one without a client-side timeout; per-call limits come
// from the Client wrapper.
func NewOllamaBackend(baseURL string, httpClient *http.Client, opts GenerationOptions) *OllamaBackend {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &OllamaBackend{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		opts:       opts,
	}
}

func (b *OllamaBackend) Name() string  { return "ollama" }
func (b *OllamaBackend) Model() string { return b.opts.Model }

func (b *OllamaBackend) Complete(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(ollamaRequest{
		Model:   b.opts.Model,
		System:  req.Instructions,
		Prompt:  req.Input,
		Stream:  b.opts.Stream,
		Options: ollamaOptions{Temperature: b.opts.Temperature},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+ollamaGeneratePath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: failed to create request: %w", ErrConnectionFailure, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return "", classify(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: ollama returned status %d: %s", ErrConnectionFailure, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if !b.opts.Stream {
		return readSingle(ctx, resp.Body)
	}
	return readStream(ctx, req.Role, resp.Body)
}

func readSingle(ctx context.Context, body io.Reader) (string, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return "", classify(ctx, err)
	}

	var chunk ollamaChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedStream, err)
	}
	if chunk.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrConnectionFailure, chunk.Error)
	}
	return strings.TrimSpace(chunk.Response), nil
}

// readStream concatenates NDJSON fragments until a done marker or EOF.
// Undecodable lines are skipped. A broken connection discards everything read.
func readStream(ctx context.Context, role string, body io.Reader) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)

	var (
		sb        strings.Builder
		decoded   int
		malformed int
	)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		line = strings.TrimPrefix(line, "data: ")
		if line == "[DONE]" {
			break
		}

		var chunk ollamaChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			malformed++
			logger.Debug("Skipping undecodable stream chunk",
				zap.String("role", role),
				zap.Int("length", len(line)),
			)
			continue
		}
		decoded++

		if chunk.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrConnectionFailure, chunk.Error)
		}
		sb.WriteString(chunk.Response)
		if chunk.Done {
			return strings.TrimSpace(sb.String()), nil
		}
	}

	if err := scanner.Err(); err != nil {
		return "", classify(ctx, err)
	}

	if decoded == 0 && malformed > 0 {
		return "", fmt.Errorf("%w: %d undecodable chunks and no content", ErrMalformedStream, malformed)
	}

	return strings.TrimSpace(sb.String()), nil
}
