package model

import (
	"context"
	"fmt"
	"image"
	"os"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/detection"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/logger"
)

var (
	ortOnce sync.Once
	ortErr  error
)

// initRuntime initializes the onnxruntime environment once per process
func initRuntime(libPath string) error {
	ortOnce.Do(func() {
		if libPath != "" {
			if _, err := os.Stat(libPath); err != nil {
				ortErr = fmt.Errorf("onnxruntime library not found at %s: %w", libPath, err)
				return
			}
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			ortErr = fmt.Errorf("error initializing onnxruntime environment: %w", err)
		}
	})
	return ortErr
}

// onnxModel runs a YOLOv8-style detector exported to ONNX
type onnxModel struct {
	cfg     detection.ModelConfig
	layout  yoloLayout
	iou     float64
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	logger  *logger.Logger
}

// NewONNXLoader returns a Loader backed by onnxruntime
func NewONNXLoader(log *logger.Logger) Loader {
	return func(ctx context.Context, cfg detection.ModelConfig) (DetectionModel, error) {
		return loadONNX(ctx, cfg, log)
	}
}

func loadONNX(ctx context.Context, cfg detection.ModelConfig, log *logger.Logger) (DetectionModel, error) {
	info, err := os.Stat(cfg.ModelPath)
	if err != nil {
		return nil, detection.NewError(detection.KindModelLoad, "", fmt.Errorf("model file not readable: %w", err))
	}
	if info.IsDir() {
		return nil, detection.NewError(detection.KindModelLoad, "", fmt.Errorf("model path %s is a directory", cfg.ModelPath))
	}
	if err := ctx.Err(); err != nil {
		return nil, detection.NewError(detection.KindModelLoad, "", err)
	}

	if err := initRuntime(cfg.RuntimeLibrary); err != nil {
		return nil, detection.NewError(detection.KindModelLoad, "", err)
	}

	// Discover tensor names and shapes from the file
	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, detection.NewError(detection.KindModelLoad, "", fmt.Errorf("error reading model inputs and outputs: %w", err))
	}
	tensors, err := discoverTensors(inputs, outputs, cfg)
	if err != nil {
		return nil, detection.NewError(detection.KindModelLoad, "", err)
	}
	layout, inputName, outputName := tensors.layout, tensors.input, tensors.output

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, detection.NewError(detection.KindModelLoad, "", fmt.Errorf("error creating session options: %w", err))
	}
	defer options.Destroy()

	options.SetIntraOpNumThreads(runtime.NumCPU())
	options.SetInterOpNumThreads(1)

	if cfg.Device == detection.DeviceAccelerator {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, detection.NewError(detection.KindModelLoad, "", fmt.Errorf("accelerator unavailable: %w", err))
		}
		defer cudaOptions.Destroy()
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			return nil, detection.NewError(detection.KindModelLoad, "", fmt.Errorf("error enabling accelerator: %w", err))
		}
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(layout.InputSize), int64(layout.InputSize)))
	if err != nil {
		return nil, detection.NewError(detection.KindModelLoad, "", fmt.Errorf("error creating input tensor: %w", err))
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+layout.NumClasses), int64(layout.NumAnchors)))
	if err != nil {
		inputTensor.Destroy()
		return nil, detection.NewError(detection.KindModelLoad, "", fmt.Errorf("error creating output tensor: %w", err))
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{inputName},
		[]string{outputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, detection.NewError(detection.KindModelLoad, "", fmt.Errorf("error creating session: %w", err))
	}

	iouThreshold := cfg.IOUThreshold
	if iouThreshold == 0 {
		iouThreshold = defaultIOUThreshold
	}

	log.Debug("ONNX session created",
		"input", inputName,
		"output", outputName,
		"input_size", layout.InputSize,
		"classes", layout.NumClasses,
		"anchors", layout.NumAnchors,
	)

	return &onnxModel{
		cfg:     cfg,
		layout:  layout,
		iou:     iouThreshold,
		session: session,
		input:   inputTensor,
		output:  outputTensor,
		logger:  log,
	}, nil
}

// modelTensors is what loading needs to know about a model's input and output
type modelTensors struct {
	input  string
	output string
	layout yoloLayout
}

// discoverTensors checks the model is a YOLOv8-style detector and derives its
// layout. Fixed dimensions in the file win; configuration fills dynamic ones
// and must agree with fixed ones.
func discoverTensors(inputs, outputs []ort.InputOutputInfo, cfg detection.ModelConfig) (modelTensors, error) {
	in, err := pickTensor(inputs, cfg.InputName, "input")
	if err != nil {
		return modelTensors{}, err
	}
	out, err := pickTensor(outputs, cfg.OutputName, "output")
	if err != nil {
		return modelTensors{}, err
	}

	// Input: [N, 3, H, W] float32, square
	if len(in.Dimensions) != 4 {
		return modelTensors{}, fmt.Errorf("input %s has shape %v, expected [N, 3, H, W]", in.Name, in.Dimensions)
	}
	if in.DataType != ort.TensorElementDataTypeFloat {
		return modelTensors{}, fmt.Errorf("input %s is not float32", in.Name)
	}
	if c := in.Dimensions[1]; c > 0 && c != 3 {
		return modelTensors{}, fmt.Errorf("input %s has %d channels, expected 3", in.Name, c)
	}
	h, w := in.Dimensions[2], in.Dimensions[3]
	if h > 0 && w > 0 && h != w {
		return modelTensors{}, fmt.Errorf("input %s is %dx%d, only square inputs are supported", in.Name, w, h)
	}

	inputSize := int(h)
	switch {
	case inputSize <= 0 && cfg.InputSize > 0:
		inputSize = cfg.InputSize
	case inputSize <= 0:
		inputSize = defaultInputSize
	case cfg.InputSize > 0 && cfg.InputSize != inputSize:
		return modelTensors{}, fmt.Errorf("model input size is %d, configured input_size is %d", inputSize, cfg.InputSize)
	}

	// Output: [1, 4+classes, anchors] float32
	if len(out.Dimensions) != 3 {
		return modelTensors{}, fmt.Errorf("output %s has shape %v, expected [1, 4+classes, anchors]", out.Name, out.Dimensions)
	}
	if out.DataType != ort.TensorElementDataTypeFloat {
		return modelTensors{}, fmt.Errorf("output %s is not float32", out.Name)
	}

	numClasses := len(cfg.Labels)
	if rows := out.Dimensions[1]; rows > 0 {
		if rows <= 4 {
			return modelTensors{}, fmt.Errorf("output %s has %d rows, expected 4 box values plus classes", out.Name, rows)
		}
		fileClasses := int(rows) - 4
		if numClasses > 0 && numClasses != fileClasses {
			return modelTensors{}, fmt.Errorf("model predicts %d classes but %d labels are configured", fileClasses, numClasses)
		}
		numClasses = fileClasses
	}
	if numClasses == 0 {
		numClasses = defaultNumClasses
	}

	numAnchors := anchorCount(inputSize)
	if anchors := out.Dimensions[2]; anchors > 0 {
		if int(anchors) != numAnchors {
			return modelTensors{}, fmt.Errorf("output %s has %d anchors, expected %d for a %d input", out.Name, anchors, numAnchors, inputSize)
		}
	}

	return modelTensors{
		input:  in.Name,
		output: out.Name,
		layout: yoloLayout{NumClasses: numClasses, NumAnchors: numAnchors, InputSize: inputSize},
	}, nil
}

// pickTensor returns the tensor called name, or the only tensor when name is empty
func pickTensor(infos []ort.InputOutputInfo, name, kind string) (ort.InputOutputInfo, error) {
	if name != "" {
		for _, info := range infos {
			if info.Name == name {
				return info, nil
			}
		}
		return ort.InputOutputInfo{}, fmt.Errorf("model has no %s named %q", kind, name)
	}
	if len(infos) != 1 {
		return ort.InputOutputInfo{}, fmt.Errorf("model has %d %ss, set %s_name to pick one", len(infos), kind, kind)
	}
	return infos[0], nil
}

// Infer resizes the image to the network input, runs the session and decodes boxes
func (m *onnxModel) Infer(ctx context.Context, img image.Image, threshold float64) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	resized := imaging.Resize(img, m.layout.InputSize, m.layout.InputSize, imaging.Linear)
	fillCHW(resized, m.input.GetData(), m.layout.InputSize)

	if err := m.session.Run(); err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dets, err := decodeYOLO(m.output.GetData(), m.layout, threshold, bounds.Dx(), bounds.Dy(), m.cfg.Label)
	if err != nil {
		return nil, fmt.Errorf("process predictions: %w", err)
	}
	return &Output{Detections: nonMaxSuppression(dets, m.iou)}, nil
}

// fillCHW writes normalized RGB planes of an NRGBA image into dst
func fillCHW(img *image.NRGBA, dst []float32, size int) {
	plane := size * size
	for y := 0; y < size; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+size*4]
		for x := 0; x < size; x++ {
			i := y*size + x
			dst[i] = float32(row[x*4]) / 255.0
			dst[plane+i] = float32(row[x*4+1]) / 255.0
			dst[2*plane+i] = float32(row[x*4+2]) / 255.0
		}
	}
}

// Close releases the session and tensors
func (m *onnxModel) Close() error {
	if m.session != nil {
		if err := m.session.Destroy(); err != nil {
			return err
		}
		m.session = nil
	}
	if m.input != nil {
		m.input.Destroy()
		m.input = nil
	}
	if m.output != nil {
		m.output.Destroy()
		m.output = nil
	}
	return nil
}
