package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Diagnosis labels returned by the classifier
const (
	DiagnosisPneumonia = "Pneumonia likely"
	DiagnosisNormal    = "Likely normal"
)

var ErrModelUnavailable = errors.New("pneumonia model unavailable")

// ProbabilityModel returns the probability of pneumonia for a preprocessed image
type ProbabilityModel interface {
	Predict(ctx context.Context, input Tensor) (float64, error)
}

// Prediction is the classifier outcome for one image
type Prediction struct {
	Probability float64 `json:"pneumonia_probability"`
	Diagnosis   string  `json:"diagnosis"`
}

// Classify runs the model and labels the result against threshold
func Classify(ctx context.Context, model ProbabilityModel, input Tensor, threshold float64) (*Prediction, error) {
	p, err := model.Predict(ctx, input)
	if err != nil {
		return nil, err
	}

	diagnosis := DiagnosisNormal
	if p > threshold {
		diagnosis = DiagnosisPneumonia
	}
	return &Prediction{Probability: p, Diagnosis: diagnosis}, nil
}

// ServingModel calls a TensorFlow Serving REST predict endpoint
type ServingModel struct {
	client *resty.Client
	url    string
}

// NewServingModel creates a model client for the given predict URL
func NewServingModel(url string, timeout time.Duration) *ServingModel {
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("Content-Type", "application/json")

	return &ServingModel{client: client, url: url}
}

type predictRequest struct {
	Instances Tensor `json:"instances"`
}

type predictResponse struct {
	Predictions [][]float64 `json:"predictions"`
	Error       string      `json:"error"`
}

// Predict returns predictions[0][0] for a sigmoid head and predictions[0][1]
// for a two-class softmax head.
func (m *ServingModel) Predict(ctx context.Context, input Tensor) (float64, error) {
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(predictRequest{Instances: input}).
		Post(m.url)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	var out predictResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return 0, fmt.Errorf("%w: status %d: decode: %v", ErrModelUnavailable, resp.StatusCode(), err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("%w: status %d: %s", ErrModelUnavailable, resp.StatusCode(), out.Error)
	}

	return pneumoniaProbability(out.Predictions)
}

func pneumoniaProbability(predictions [][]float64) (float64, error) {
	if len(predictions) == 0 {
		return 0, fmt.Errorf("%w: empty predictions", ErrModelUnavailable)
	}
	switch scores := predictions[0]; len(scores) {
	case 1:
		return scores[0], nil
	case 2:
		return scores[1], nil
	default:
		return 0, fmt.Errorf("%w: unexpected output width %d", ErrModelUnavailable, len(scores))
	}
}
