package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const maxPredictionBytes = 8 << 20

const predictionSchema = `{
  "type": "object",
  "required": ["boxes", "confidences", "classes"],
  "properties": {
    "boxes": {
      "type": "array",
      "items": {
        "type": "array",
        "items": {"type": "number"},
        "minItems": 4,
        "maxItems": 4
      }
    },
    "confidences": {
      "type": "array",
      "items": {"type": "number", "minimum": 0, "maximum": 1}
    },
    "classes": {
      "type": "array",
      "items": {"type": "integer", "minimum": 0}
    },
    "names": {
      "type": "object",
      "patternProperties": {"^[0-9]+$": {"type": "string"}},
      "additionalProperties": false
    }
  }
}`

// RemoteModel calls an HTTP inference service. The page is posted as a
// multipart "file" field holding a PNG.
type RemoteModel struct {
	inferenceURL string
	healthURL    string
	client       *http.Client
	schema       *jsonschema.Schema
	logger       *slog.Logger
}

// NewRemoteModel builds a client for inferenceURL. An empty healthURL is
// derived as the sibling "health" path of inferenceURL.
func NewRemoteModel(inferenceURL, healthURL string, client *http.Client, logger *slog.Logger) (*RemoteModel, error) {
	if inferenceURL == "" {
		return nil, fmt.Errorf("inference url is required")
	}
	if healthURL == "" {
		u, err := url.Parse(inferenceURL)
		if err != nil {
			return nil, fmt.Errorf("parse inference url: %w", err)
		}
		u.Path = path.Join(path.Dir(u.Path), "health")
		u.RawQuery = ""
		healthURL = u.String()
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("prediction.json", strings.NewReader(predictionSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("prediction.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	return &RemoteModel{
		inferenceURL: inferenceURL,
		healthURL:    healthURL,
		client:       client,
		schema:       schema,
		logger:       logger,
	}, nil
}

func (m *RemoteModel) Name() string {
	return "remote"
}

func (m *RemoteModel) Predict(ctx context.Context, img image.Image) (Prediction, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "page.png")
	if err != nil {
		return Prediction{}, fmt.Errorf("create form file: %w", err)
	}
	if err := png.Encode(part, img); err != nil {
		return Prediction{}, fmt.Errorf("encode page: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Prediction{}, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.inferenceURL, body)
	if err != nil {
		return Prediction{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := m.client.Do(req)
	if err != nil {
		return Prediction{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPredictionBytes))
	if err != nil {
		return Prediction{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		m.logger.Debug("inference error body", "status", resp.StatusCode, "body", truncate(string(data), 200))
		return Prediction{}, fmt.Errorf("inference failed with status: %d", resp.StatusCode)
	}

	return m.decode(data)
}

func (m *RemoteModel) decode(data []byte) (Prediction, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return Prediction{}, fmt.Errorf("decode response: %w", err)
	}
	if err := m.schema.Validate(v); err != nil {
		return Prediction{}, fmt.Errorf("response does not match schema: %w", err)
	}

	// classes may arrive as 0.0 from numeric backends
	var result struct {
		Boxes       [][4]float64      `json:"boxes"`
		Confidences []float64         `json:"confidences"`
		Classes     []float64         `json:"classes"`
		Names       map[string]string `json:"names"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return Prediction{}, fmt.Errorf("decode response: %w", err)
	}

	p := Prediction{
		Boxes:       result.Boxes,
		Confidences: result.Confidences,
		Classes:     make([]int, len(result.Classes)),
	}
	for i, c := range result.Classes {
		p.Classes[i] = int(c)
	}
	if len(result.Names) > 0 {
		p.Names = make(map[int]string, len(result.Names))
		for k, v := range result.Names {
			idx, err := strconv.Atoi(k)
			if err != nil {
				return Prediction{}, fmt.Errorf("bad class key %q", k)
			}
			p.Names[idx] = v
		}
	}
	return p, nil
}

// CheckHealth reports whether the inference service answers its health
// endpoint with 200.
func (m *RemoteModel) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.healthURL, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ml service unhealthy: %d", resp.StatusCode)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
