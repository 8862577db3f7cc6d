//go:build onnx

// Package onnx embeds text locally with an all-MiniLM-L6-v2 ONNX model.
package onnx

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/becomeliminal/nim-assistant/core"
	"github.com/becomeliminal/nim-assistant/logging"
)

const (
	maxSequence = 128
	clsToken    = 101
	sepToken    = 102
	unkToken    = 100
)

// Config configures the ONNX embedder.
type Config struct {
	// ModelPath is the path to the ONNX model file.
	ModelPath string

	// TokenizerPath is the path to the tokenizer.json file.
	TokenizerPath string

	// LibraryPath points at libonnxruntime. Empty uses the runtime default.
	LibraryPath string

	// Dimensions is the embedding vector size (default: 384).
	Dimensions int

	Logger *slog.Logger
}

// Embedder generates embeddings with ONNX Runtime. Calls are serialized.
type Embedder struct {
	mu         sync.Mutex
	session    *ort.DynamicAdvancedSession
	vocab      wordPiece
	dimensions int
	logger     *slog.Logger
}

// New loads the model and tokenizer.
func New(cfg Config) (*Embedder, error) {
	if cfg.ModelPath == "" {
		return nil, goerr.Wrap(core.ErrConfiguration, "onnx model path is required")
	}
	if cfg.TokenizerPath == "" {
		return nil, goerr.Wrap(core.ErrConfiguration, "onnx tokenizer path is required")
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 384
	}
	logger := logging.Component(cfg.Logger, "onnx")

	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, goerr.Wrap(err, "failed to initialize onnx runtime")
		}
	}

	vocab, err := loadWordPiece(cfg.TokenizerPath)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load tokenizer", goerr.V("path", cfg.TokenizerPath))
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create onnx session", goerr.V("path", cfg.ModelPath))
	}

	logger.Info("onnx embedder ready", "model", cfg.ModelPath, "dimensions", cfg.Dimensions)
	return &Embedder{
		session:    session,
		vocab:      vocab,
		dimensions: cfg.Dimensions,
		logger:     logger,
	}, nil
}

// Embed converts text to a unit embedding vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids, mask := e.vocab.encode(text, maxSequence)
	types := make([]int64, maxSequence)

	shape := ort.NewShape(1, maxSequence)
	idsTensor, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create input_ids tensor")
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create attention_mask tensor")
	}
	defer maskTensor.Destroy()
	typesTensor, err := ort.NewTensor(shape, types)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create token_type_ids tensor")
	}
	defer typesTensor.Destroy()

	outputs := []ort.Value{nil}

	e.mu.Lock()
	err = e.session.Run([]ort.Value{idsTensor, maskTensor, typesTensor}, outputs)
	e.mu.Unlock()
	if err != nil {
		return nil, goerr.Wrap(err, "onnx inference failed")
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, goerr.New("unexpected onnx output tensor type")
	}

	vec, err := pool(tensor.GetShape(), tensor.GetData(), mask, e.dimensions)
	if err != nil {
		return nil, err
	}
	return normalize(vec), nil
}

// pool reduces model output to one vector. Already pooled output is copied;
// token-level output is mean pooled over attended positions.
func pool(shape ort.Shape, data []float32, mask []int64, dims int) ([]float32, error) {
	switch len(shape) {
	case 2:
		if len(data) < dims {
			return nil, goerr.New("output dimension mismatch", goerr.V("got", len(data)), goerr.V("want", dims))
		}
		out := make([]float32, dims)
		copy(out, data[:dims])
		return out, nil

	case 3:
		if shape[0] != 1 || shape[2] != int64(dims) {
			return nil, goerr.New("unexpected output shape", goerr.V("shape", shape))
		}
		seq := int(shape[1])
		out := make([]float32, dims)
		var attended float32
		for i := 0; i < seq && i < len(mask); i++ {
			if mask[i] == 0 {
				continue
			}
			attended++
			row := data[i*dims : (i+1)*dims]
			for j, v := range row {
				out[j] += v
			}
		}
		if attended > 0 {
			for j := range out {
				out[j] /= attended
			}
		}
		return out, nil
	}
	return nil, goerr.New("unexpected output shape", goerr.V("shape", shape))
}

// Dimensions returns the embedding vector size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Close releases ONNX resources.
func (e *Embedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}

func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		vec[i] = float32(float64(v) / norm)
	}
	return vec
}

// wordPiece is a minimal BERT WordPiece vocabulary.
type wordPiece map[string]int

func loadWordPiece(path string) (wordPiece, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Model.Vocab) == 0 {
		return nil, goerr.New("tokenizer has no vocabulary")
	}
	return wordPiece(doc.Model.Vocab), nil
}

// encode returns [CLS] tokens [SEP] padded to n, with the attention mask.
func (w wordPiece) encode(text string, n int) (ids, mask []int64) {
	ids = make([]int64, n)
	mask = make([]int64, n)

	tokens := w.tokenize(text)
	if len(tokens) > n-2 {
		tokens = tokens[:n-2]
	}

	ids[0], mask[0] = clsToken, 1
	for i, tok := range tokens {
		ids[i+1], mask[i+1] = tok, 1
	}
	end := len(tokens) + 1
	ids[end], mask[end] = sepToken, 1
	return ids, mask
}

func (w wordPiece) tokenize(text string) []int64 {
	var tokens []int64
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'")
		if word == "" {
			continue
		}
		if id, ok := w[word]; ok {
			tokens = append(tokens, int64(id))
			continue
		}
		tokens = append(tokens, w.subwords(word)...)
	}
	return tokens
}

// subwords greedily matches the longest vocabulary prefix, marking
// continuations with ##.
func (w wordPiece) subwords(word string) []int64 {
	var out []int64
	for start := 0; start < len(word); {
		end := len(word)
		matched := false
		for ; end > start; end-- {
			piece := word[start:end]
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := w[piece]; ok {
				out = append(out, int64(id))
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, unkToken)
			start++
			continue
		}
		start = end
	}
	return out
}
