// Package vision turns uploaded images into ranked labels using an external
// vision model.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"sort"
	"strings"
	"sync"

	// decoders registered with image.Decode
	_ "image/gif"
	_ "image/png"

	"github.com/rs/zerolog"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"wikiseek/internal/models"
)

// MaxModelSide bounds the longest image edge sent to the model.
const MaxModelSide = 512

type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Model is a remote or local image labeller.
type Model interface {
	Name() string
	// Warmup verifies the model can serve requests.
	Warmup(ctx context.Context) error
	// Predict labels an image given as a data URI. Order does not matter.
	Predict(ctx context.Context, imageDataURI string) ([]models.ClassificationLabel, error)
}

// Classifier wraps a Model with a load lifecycle:
// Unloaded -> Loading -> Ready, or Loading -> Failed. Ready and Failed are final.
type Classifier struct {
	model Model
	log   zerolog.Logger

	mu      sync.RWMutex
	state   State
	loadErr error
}

func NewClassifier(model Model, log zerolog.Logger) *Classifier {
	return &Classifier{
		model: model,
		log:   log.With().Str("component", "classifier").Str("model", model.Name()).Logger(),
	}
}

// Load warms the model up once. Later calls return the outcome of the first
// without retrying.
func (c *Classifier) Load(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateReady:
		c.mu.Unlock()
		return nil
	case StateFailed:
		err := c.loadErr
		c.mu.Unlock()
		return err
	case StateLoading:
		c.mu.Unlock()
		return models.ErrNotReady
	}
	c.state = StateLoading
	c.mu.Unlock()

	c.log.Info().Msg("loading classifier")
	err := c.model.Warmup(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = StateFailed
		c.loadErr = fmt.Errorf("load %s: %w", c.model.Name(), err)
		c.log.Error().Err(err).Msg("classifier failed to load")
		return c.loadErr
	}
	c.state = StateReady
	c.log.Info().Msg("classifier ready")
	return nil
}

func (c *Classifier) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Ready reports whether Classify can be called.
func (c *Classifier) Ready() bool {
	return c.State() == StateReady
}

// Failed reports whether loading ended in the terminal failed state.
func (c *Classifier) Failed() bool {
	return c.State() == StateFailed
}

// Classify returns labels for img ordered by confidence, highest first. An
// empty slice means nothing was recognized.
func (c *Classifier) Classify(ctx context.Context, img image.Image) ([]models.ClassificationLabel, error) {
	switch st := c.State(); st {
	case StateReady:
	case StateFailed:
		return nil, fmt.Errorf("%w: classifier failed to load", models.ErrUnavailable)
	default:
		return nil, fmt.Errorf("%w: classifier is %s", models.ErrNotReady, st)
	}

	uri, err := EncodeDataURI(img)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrClassification, err)
	}

	labels, err := c.model.Predict(ctx, uri)
	if err != nil {
		if errors.Is(err, models.ErrClassification) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", models.ErrClassification, err)
	}
	return rank(labels), nil
}

// rank drops blank labels, clamps confidences into [0,1] and sorts descending.
func rank(labels []models.ClassificationLabel) []models.ClassificationLabel {
	out := make([]models.ClassificationLabel, 0, len(labels))
	for _, l := range labels {
		l.Label = strings.TrimSpace(l.Label)
		if l.Label == "" || math.IsNaN(l.Confidence) {
			continue
		}
		l.Confidence = math.Max(0, math.Min(1, l.Confidence))
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// Decode reads JPEG, PNG, GIF, WebP or BMP bytes.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: no image", models.ErrValidation)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: unsupported image: %v", models.ErrValidation, err)
	}
	return img, format, nil
}

// EncodeDataURI downsizes img to MaxModelSide and encodes it as a JPEG data URI.
func EncodeDataURI(img image.Image) (string, error) {
	img = fit(img, MaxModelSide)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return "", fmt.Errorf("encode jpeg: %w", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func fit(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxSide && h <= maxSide {
		return img
	}
	if w >= h {
		h = int(math.Max(1, math.Round(float64(h)*float64(maxSide)/float64(w))))
		w = maxSide
	} else {
		w = int(math.Max(1, math.Round(float64(w)*float64(maxSide)/float64(h))))
		h = maxSide
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
