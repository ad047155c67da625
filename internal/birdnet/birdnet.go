// Package birdnet wraps the BirdNET TensorFlow Lite model behind a small
// classifier interface so the analyzer stage can run against a fake model
// in tests.
package birdnet

import (
	"bufio"
	"math"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/tphakala/go-tflite"

	"github.com/aviarylab/birdstation/internal/conf"
	"github.com/aviarylab/birdstation/internal/errors"
)

// ModelSampleRate is the sample rate the BirdNET model expects.
const ModelSampleRate = 48000

// ChunkSeconds is the inference window length in seconds.
const ChunkSeconds = 3

// Result pairs a species label with its confidence score.
type Result struct {
	Species    string
	Confidence float32
}

// Classifier runs species detection over 3-second audio chunks.
// Implemented by BirdNET; the analyzer depends only on this interface.
type Classifier interface {
	AnalyzeChunks(chunks [][]float32) ([]Result, error)
}

// BirdNET holds the tflite interpreter and labels for one stage process.
type BirdNET struct {
	interpreter *tflite.Interpreter
	model       *tflite.Model
	labels      []string
	sensitivity float64
}

// New loads the model and labels and creates an interpreter.
func New(settings *conf.AnalyzerSettings) (*BirdNET, error) {
	model := tflite.NewModelFromFile(settings.ModelPath)
	if model == nil {
		return nil, errors.Newf("cannot load model from path: %s", settings.ModelPath).
			Component("birdnet").
			Category(errors.CategoryModelLoad).
			Context("model_path", settings.ModelPath).
			Build()
	}

	threads := settings.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(threads)
	options.SetErrorReporter(func(msg string, userData any) {
		// tflite reports asynchronously, route through stderr
		os.Stderr.WriteString("tflite: " + msg + "\n")
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		model.Delete()
		return nil, errors.Newf("cannot create interpreter").
			Component("birdnet").
			Category(errors.CategoryModelInit).
			Build()
	}

	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		model.Delete()
		return nil, errors.Newf("tensor allocation failed").
			Component("birdnet").
			Category(errors.CategoryModelInit).
			Build()
	}

	labels, err := loadLabels(settings.LabelPath)
	if err != nil {
		interpreter.Delete()
		model.Delete()
		return nil, err
	}

	return &BirdNET{
		interpreter: interpreter,
		model:       model,
		labels:      labels,
		sensitivity: settings.Sensitivity,
	}, nil
}

// Delete releases the interpreter and model.
func (b *BirdNET) Delete() {
	if b.interpreter != nil {
		b.interpreter.Delete()
	}
	if b.model != nil {
		b.model.Delete()
	}
}

// loadLabels reads the label file into a slice, one label per line.
func loadLabels(labelPath string) ([]string, error) {
	file, err := os.Open(labelPath)
	if err != nil {
		return nil, errors.New(err).
			Component("birdnet").
			Category(errors.CategoryLabelLoad).
			Context("label_path", labelPath).
			Build()
	}
	defer file.Close()

	var labels []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		labels = append(labels, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.New(err).
			Component("birdnet").
			Category(errors.CategoryLabelLoad).
			Context("label_path", labelPath).
			Build()
	}

	return labels, nil
}

// customSigmoid calculates the sigmoid of x adjusted by a sensitivity
// factor. A higher sensitivity makes the curve steeper.
func customSigmoid(x, sensitivity float64) float64 {
	return 1.0 / (1.0 + math.Exp(-sensitivity*x))
}

// predict runs inference on one chunk and returns the top result.
func (b *BirdNET) predict(chunk []float32) (Result, error) {
	input := b.interpreter.GetInputTensor(0)
	if input == nil {
		return Result{}, errors.Newf("cannot get input tensor").
			Component("birdnet").
			Category(errors.CategoryModelInit).
			Build()
	}

	copy(input.Float32s(), chunk)

	if status := b.interpreter.Invoke(); status != tflite.OK {
		return Result{}, errors.Newf("tensor invoke failed").
			Component("birdnet").
			Category(errors.CategoryAudio).
			Build()
	}

	output := b.interpreter.GetOutputTensor(0)
	outputSize := output.Dim(output.NumDims() - 1)

	prediction := make([]float32, outputSize)
	copy(prediction, output.Float32s())

	if len(b.labels) != len(prediction) {
		return Result{}, errors.Newf("length of labels (%d) and predictions (%d) do not match", len(b.labels), len(prediction)).
			Component("birdnet").
			Category(errors.CategoryLabelLoad).
			Build()
	}

	results := make([]Result, len(prediction))
	for i := range prediction {
		results[i] = Result{
			Species:    b.labels[i],
			Confidence: float32(customSigmoid(float64(prediction[i]), b.sensitivity)),
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})

	return results[0], nil
}

// AnalyzeChunks runs inference over each chunk and returns the top result
// per chunk, in chunk order.
func (b *BirdNET) AnalyzeChunks(chunks [][]float32) ([]Result, error) {
	results := make([]Result, 0, len(chunks))
	for _, chunk := range chunks {
		r, err := b.predict(chunk)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}
