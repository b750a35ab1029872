package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/modelmint/backend/internal/config"
	"github.com/modelmint/backend/pkg/logger"
)

// ErrEngine wraps any failure of the external worker: bad exit status,
// timeout, or unparseable output.
var ErrEngine = errors.New("compute engine failed")

// TrainRequest describes one training job for the worker.
type TrainRequest struct {
	CSVPath   string                 `json:"csv_path"`
	Features  []string               `json:"features"`
	Label     string                 `json:"label"`
	ModelType string                 `json:"model_type"`
	Params    map[string]interface{} `json:"params"`
	// OutPath is where the worker must write the model artifact. The caller
	// passes a temporary path and promotes it only after the charge commits.
	OutPath string `json:"out_path"`
}

// TrainOutput is the worker's report for a finished training job.
type TrainOutput struct {
	Metrics       map[string]float64 `json:"metrics"`
	FeatureSchema map[string]string  `json:"feature_schema"`
}

// PredictRequest runs one inference against a stored artifact.
type PredictRequest struct {
	ArtifactPath  string                 `json:"artifact_path"`
	ModelType     string                 `json:"model_type"`
	FeatureValues map[string]interface{} `json:"feature_values"`
}

// PredictOutput carries the raw prediction value.
type PredictOutput struct {
	Prediction json.RawMessage `json:"prediction"`
}

// Engine is the model training and inference collaborator. The service layer
// only sees this interface; tests substitute an in-process fake.
type Engine interface {
	Train(ctx context.Context, req *TrainRequest) (*TrainOutput, error)
	Predict(ctx context.Context, req *PredictRequest) (*PredictOutput, error)
}

// SubprocessEngine shells out to the trainer worker, one process per job.
// The request goes to the worker as JSON on stdin and the result comes back
// as JSON on stdout, so the worker can be written in any language.
type SubprocessEngine struct {
	command string
	timeout time.Duration
}

func NewSubprocessEngine(cfg *config.TrainerConfig) *SubprocessEngine {
	return &SubprocessEngine{
		command: cfg.Command,
		timeout: cfg.Timeout,
	}
}

func (e *SubprocessEngine) Train(ctx context.Context, req *TrainRequest) (*TrainOutput, error) {
	var out TrainOutput
	if err := e.run(ctx, "train", req, &out); err != nil {
		return nil, err
	}
	if len(out.Metrics) == 0 {
		return nil, fmt.Errorf("%w: worker reported no metrics", ErrEngine)
	}
	return &out, nil
}

func (e *SubprocessEngine) Predict(ctx context.Context, req *PredictRequest) (*PredictOutput, error) {
	var out PredictOutput
	if err := e.run(ctx, "predict", req, &out); err != nil {
		return nil, err
	}
	if len(out.Prediction) == 0 {
		return nil, fmt.Errorf("%w: worker reported no prediction", ErrEngine)
	}
	return &out, nil
}

func (e *SubprocessEngine) run(ctx context.Context, task string, req interface{}, out interface{}) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(runCtx, e.command, task)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w: %s timed out after %s", ErrEngine, task, e.timeout)
		}
		return fmt.Errorf("%w: %s: %v: %s", ErrEngine, task, err, firstLine(stderr.String()))
	}

	logger.Debug().
		Str("task", task).
		Dur("elapsed", time.Since(start)).
		Msg("compute worker finished")

	if err := json.Unmarshal(stdout.Bytes(), out); err != nil {
		return fmt.Errorf("%w: %s produced invalid output: %v", ErrEngine, task, err)
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx != -1 {
		return s[:idx]
	}
	return s
}
