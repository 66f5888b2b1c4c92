package eta

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// FeatureCount is the width of the regressor input vector
const FeatureCount = 6

// Regressor predicts travel minutes from a raw, unscaled feature vector.
// Implementations own their scaling.
type Regressor interface {
	PredictMinutes(features [FeatureCount]float64) (float64, error)
}

// Scaler is a fitted z-score transform
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Layer is one dense layer: out = activation(W·in + b)
type Layer struct {
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
	Activation string      `json:"activation"`
}

// MLP is a small feed-forward regressor trained on log1p(minutes).
// Inputs are z-scored with ScalerX; the raw output is inverse-scaled with
// ScalerY and passed through expm1.
type MLP struct {
	ScalerX Scaler  `json:"scaler_x"`
	ScalerY Scaler  `json:"scaler_y"`
	Layers  []Layer `json:"layers"`
}

// LoadMLP reads and validates a model file
func LoadMLP(path string) (*MLP, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}

	var m MLP
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse model file %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model file %s: %w", path, err)
	}
	return &m, nil
}

// Validate checks that layer shapes chain from FeatureCount inputs to one output
func (m *MLP) Validate() error {
	if len(m.ScalerX.Mean) != FeatureCount || len(m.ScalerX.Scale) != FeatureCount {
		return fmt.Errorf("scaler_x must have %d means and scales", FeatureCount)
	}
	if len(m.ScalerY.Mean) != 1 || len(m.ScalerY.Scale) != 1 {
		return fmt.Errorf("scaler_y must have exactly one mean and scale")
	}
	for i, s := range m.ScalerX.Scale {
		if s == 0 {
			return fmt.Errorf("scaler_x scale %d is zero", i)
		}
	}
	if len(m.Layers) == 0 {
		return fmt.Errorf("model has no layers")
	}

	width := FeatureCount
	for i, layer := range m.Layers {
		if len(layer.Weights) == 0 || len(layer.Weights) != len(layer.Bias) {
			return fmt.Errorf("layer %d: %d weight rows but %d biases", i, len(layer.Weights), len(layer.Bias))
		}
		for r, row := range layer.Weights {
			if len(row) != width {
				return fmt.Errorf("layer %d row %d: expected %d inputs, got %d", i, r, width, len(row))
			}
		}
		switch layer.Activation {
		case "relu", "linear", "":
		default:
			return fmt.Errorf("layer %d: unsupported activation %q", i, layer.Activation)
		}
		width = len(layer.Weights)
	}
	if width != 1 {
		return fmt.Errorf("final layer must have one output, has %d", width)
	}
	return nil
}

// PredictMinutes runs the forward pass
func (m *MLP) PredictMinutes(features [FeatureCount]float64) (float64, error) {
	x := make([]float64, FeatureCount)
	for i, v := range features {
		x[i] = (v - m.ScalerX.Mean[i]) / m.ScalerX.Scale[i]
	}

	for _, layer := range m.Layers {
		out := make([]float64, len(layer.Weights))
		for r, row := range layer.Weights {
			sum := layer.Bias[r]
			for c, w := range row {
				sum += w * x[c]
			}
			if layer.Activation == "relu" && sum < 0 {
				sum = 0
			}
			out[r] = sum
		}
		x = out
	}

	logMinutes := x[0]*m.ScalerY.Scale[0] + m.ScalerY.Mean[0]
	minutes := math.Expm1(logMinutes)
	if math.IsNaN(minutes) || math.IsInf(minutes, 0) {
		return 0, fmt.Errorf("model produced non-finite prediction")
	}
	return math.Max(0, minutes), nil
}
