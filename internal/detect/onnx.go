package detect

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/banshee-data/tankwatch/internal/frames"
	"github.com/banshee-data/tankwatch/internal/measure"
	"github.com/banshee-data/tankwatch/internal/monitoring"
)

var logf = monitoring.Tagged("detect")

// InitRuntime loads the onnxruntime shared library. libPath may be empty to
// use the library's platform default. Call DestroyRuntime on shutdown.
func InitRuntime(libPath string) error {
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnxruntime: %w", err)
	}
	return nil
}

// DestroyRuntime releases the onnxruntime environment.
func DestroyRuntime() error {
	return ort.DestroyEnvironment()
}

// ONNXConfig describes the pose model.
type ONNXConfig struct {
	ModelPath     string
	InputDim      int
	Threads       int
	ConfThreshold float64
	IoUThreshold  float64
}

// ONNXDetector runs a YOLOv8-pose export with two keypoints (head, tail).
// Detect is safe for concurrent use; calls are serialised on one session.
type ONNXDetector struct {
	cfg ONNXConfig

	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewONNXDetector loads the model. InitRuntime must have been called.
func NewONNXDetector(cfg ONNXConfig) (*ONNXDetector, error) {
	if cfg.InputDim <= 0 {
		cfg.InputDim = DefaultInputDim
	}
	if cfg.Threads <= 0 {
		cfg.Threads = runtime.NumCPU()
	}
	if cfg.ConfThreshold <= 0 {
		cfg.ConfThreshold = DefaultConf
	}
	if cfg.IoUThreshold <= 0 {
		cfg.IoUThreshold = DefaultIoU
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()
	options.SetIntraOpNumThreads(cfg.Threads)

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(cfg.InputDim), int64(cfg.InputDim)))
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, NumChannels, NumCandidates))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("error creating session for %s: %w", cfg.ModelPath, err)
	}

	logf("loaded %s (input %dx%d, %d threads)", cfg.ModelPath, cfg.InputDim, cfg.InputDim, cfg.Threads)
	return &ONNXDetector{cfg: cfg, session: session, input: input, output: output}, nil
}

func (d *ONNXDetector) Detect(ctx context.Context, f frames.Frame) ([]measure.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := f.Image()
	if err != nil {
		return nil, fmt.Errorf("frame image: %w", err)
	}
	size := f.Size()
	if size.Width == 0 || size.Height == 0 {
		return nil, nil
	}
	dim := d.cfg.InputDim
	resized := imaging.Resize(img, dim, dim, imaging.Lanczos)

	d.mu.Lock()
	fillInput(resized, dim, d.input.GetData())
	if err := d.session.Run(); err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("model inference: %w", err)
	}
	dets, err := decodePose(d.output.GetData(), NumCandidates, float32(d.cfg.ConfThreshold),
		float64(size.Width)/float64(dim), float64(size.Height)/float64(dim))
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("process predictions: %w", err)
	}

	dets = nms(dets, d.cfg.IoUThreshold)
	clampToFrame(dets, size)
	return dets, nil
}

// Close releases the session and its tensors.
func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		d.session.Destroy()
		d.session = nil
	}
	if d.input != nil {
		d.input.Destroy()
		d.input = nil
	}
	if d.output != nil {
		d.output.Destroy()
		d.output = nil
	}
	return nil
}
