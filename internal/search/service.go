// Package search turns user actions into rendered results and history.
//
// Each action renders exactly one final result state, records it in the
// history store and refreshes the history view once. Overlapping actions are
// not cancelled; whichever renders last is what the view shows.
package search

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"wikiseek/internal/history"
	"wikiseek/internal/logging"
	"wikiseek/internal/models"
	"wikiseek/internal/notify"
	"wikiseek/internal/summary"
	"wikiseek/internal/vision"
)

// Classifier is the readiness-aware image labeller.
type Classifier interface {
	Ready() bool
	// Failed reports a terminal load failure.
	Failed() bool
	Classify(ctx context.Context, img image.Image) ([]models.ClassificationLabel, error)
}

// Notifier shows transient status messages.
type Notifier interface {
	Notify(message, icon string, autoDismissAfter time.Duration)
	Dismiss()
}

// Decoder turns uploaded bytes into an image.
type Decoder func(data []byte) (image.Image, string, error)

// Deps are the collaborators the service is built from.
type Deps struct {
	Lookup     summary.Looker
	Classifier Classifier
	History    history.Store
	Notifier   Notifier
	Decode     Decoder
	Log        zerolog.Logger
}

// Options are fixed at deployment time.
type Options struct {
	HistoryCap        int
	MinConfidence     float64
	Denylist          []string
	PopupDismissAfter time.Duration
	// ClassifyTimeout bounds a single classification call.
	ClassifyTimeout time.Duration
}

// Outcome is what a single action rendered.
type Outcome struct {
	View    ResultView                  `json:"view"`
	History []models.HistoryEntry       `json:"history"`
	Label   *models.ClassificationLabel `json:"label,omitempty"`
}

// DefaultClassifyTimeout keeps a synchronous image search inside the server's
// write timeout.
const DefaultClassifyTimeout = 45 * time.Second

type Service struct {
	lookup     summary.Looker
	classifier Classifier
	history    history.Store
	notifier   Notifier
	decode     Decoder
	log        zerolog.Logger
	opts       Options
	denylist   map[string]struct{}

	mu   sync.Mutex
	view ViewState
}

func New(deps Deps, opts Options) *Service {
	if opts.HistoryCap <= 0 {
		opts.HistoryCap = 5
	}
	if opts.ClassifyTimeout <= 0 {
		opts.ClassifyTimeout = DefaultClassifyTimeout
	}
	if deps.Decode == nil {
		deps.Decode = vision.Decode
	}
	deny := make(map[string]struct{}, len(opts.Denylist))
	for _, label := range opts.Denylist {
		deny[strings.ToLower(strings.TrimSpace(label))] = struct{}{}
	}
	return &Service{
		lookup:     deps.Lookup,
		classifier: deps.Classifier,
		history:    deps.History,
		notifier:   deps.Notifier,
		decode:     deps.Decode,
		log:        deps.Log.With().Str("component", "search").Logger(),
		opts:       opts,
		denylist:   deny,
		view:       ViewState{Result: ResultView{State: StateIdle}, History: []models.HistoryEntry{}},
	}
}

// RunTextSearch looks up the trimmed query, renders the result or the
// not-found fallback, records it and refreshes history.
func (s *Service) RunTextSearch(ctx context.Context, raw string) (Outcome, error) {
	log := s.logger(ctx)

	query := models.NormalizeQuery(raw)
	if query == "" {
		s.notifier.Notify("Please enter a search term.", notify.IconAlert, s.opts.PopupDismissAfter)
		return Outcome{}, fmt.Errorf("%w: empty query", models.ErrValidation)
	}

	s.setInput(query)
	s.render(ResultView{State: StateLoading, Query: query})

	var (
		view  ResultView
		entry models.HistoryEntry
	)
	res, err := s.lookup.Lookup(ctx, query)
	if err != nil {
		kind := "not_found"
		if errors.Is(err, models.ErrTransport) {
			kind = "transport"
		}
		log.Info().Err(err).Str("query", query).Str("error_kind", kind).Str("code", summary.ErrorCode(err)).Msg("summary lookup failed")

		noResult := models.NoResult
		view = ResultView{
			State:           StateNotFound,
			Query:           query,
			Result:          &noResult,
			ManualSearchURL: s.lookup.ManualSearchURL(query),
			Message:         fmt.Sprintf("No summary found for %q. Try a manual search on Wikipedia.", query),
		}
		entry = models.HistoryEntry{Query: query, Kind: models.EntryText, Status: models.StatusNotFound, Results: []models.SearchResult{models.NoResult}}
	} else {
		view = ResultView{State: StateFound, Query: query, Result: &res}
		entry = models.HistoryEntry{Query: query, Kind: models.EntryText, Status: models.StatusFound, Results: []models.SearchResult{res}}
	}

	s.render(view)
	return Outcome{View: view, History: s.record(ctx, entry)}, nil
}

// RunImageSearch classifies the image and, when the top label passes the
// gate, chains into RunTextSearch with that label.
func (s *Service) RunImageSearch(ctx context.Context, data []byte) (Outcome, error) {
	log := s.logger(ctx)

	if len(data) == 0 {
		s.notifier.Notify("Please upload an image.", notify.IconAlert, s.opts.PopupDismissAfter)
		return Outcome{}, fmt.Errorf("%w: no image", models.ErrValidation)
	}
	if err := s.CheckImageSearch(); err != nil {
		return Outcome{}, err
	}

	s.notifier.Notify("Uploading image...", notify.IconUpload, 0)
	img, format, err := s.decode(data)
	if err != nil {
		s.notifier.Notify("Could not read that image. Please upload a JPEG, PNG, GIF, WebP or BMP file.", notify.IconFailure, s.opts.PopupDismissAfter)
		return Outcome{}, err
	}

	s.notifier.Notify("Analyzing image...", notify.IconAnalyzing, 0)
	classifyCtx, cancel := context.WithTimeout(ctx, s.opts.ClassifyTimeout)
	labels, err := s.classifier.Classify(classifyCtx, img)
	cancel()
	switch {
	case errors.Is(err, models.ErrNotReady):
		return Outcome{}, s.notReady()
	case errors.Is(err, models.ErrUnavailable):
		return Outcome{}, s.unavailable()
	}
	// a caller that went away never saw a verdict, so nothing is recorded
	if ctxErr := ctx.Err(); ctxErr != nil {
		s.notifier.Dismiss()
		log.Info().Err(ctxErr).Str("format", format).Msg("image search abandoned")
		return Outcome{}, ctxErr
	}
	if err != nil {
		log.Warn().Err(err).Str("format", format).Msg("image classification failed")
		labels = nil
	}

	top, ok := s.accept(labels)
	if !ok {
		log.Info().Interface("labels", labels).Msg("image not recognized")
		return s.rejectImage(ctx), nil
	}

	s.setInput(top.Label)
	s.notifier.Notify(fmt.Sprintf("Recognized %q (%d%% confidence)", top.Label, percent(top.Confidence)), notify.IconSuccess, s.opts.PopupDismissAfter)

	out, err := s.RunTextSearch(ctx, top.Label)
	out.Label = &top
	return out, err
}

// Repeat re-runs the text search stored in a history entry.
func (s *Service) Repeat(ctx context.Context, id string) (Outcome, error) {
	entry, err := s.history.Get(ctx, id)
	if errors.Is(err, models.ErrEntryNotFound) {
		return Outcome{}, fmt.Errorf("%w: %w", models.ErrValidation, err)
	}
	if err != nil {
		return Outcome{}, err
	}
	if entry.Kind == models.EntryImage {
		s.notifier.Notify("Image searches cannot be repeated from history. Please upload the image again.", notify.IconAlert, s.opts.PopupDismissAfter)
		return Outcome{}, fmt.Errorf("%w: repeat image search", models.ErrUnsupported)
	}
	return s.RunTextSearch(ctx, entry.Query)
}

// History refreshes and returns the recent history view.
func (s *Service) History(ctx context.Context) ([]models.HistoryEntry, error) {
	entries, err := s.history.Recent(ctx, s.opts.HistoryCap)
	if err != nil {
		return nil, err
	}
	s.setHistory(entries)
	return entries, nil
}

// ClearHistory empties the store and the history view.
func (s *Service) ClearHistory(ctx context.Context) error {
	if err := s.history.Clear(ctx); err != nil {
		return err
	}
	s.setHistory([]models.HistoryEntry{})
	return nil
}

// CheckImageSearch returns nil when image searches can run. Otherwise it
// shows the matching popup and returns models.ErrNotReady while the
// classifier loads, or models.ErrUnavailable once loading has failed.
func (s *Service) CheckImageSearch() error {
	switch {
	case s.classifier.Ready():
		return nil
	case s.classifier.Failed():
		return s.unavailable()
	default:
		return s.notReady()
	}
}

func (s *Service) accept(labels []models.ClassificationLabel) (models.ClassificationLabel, bool) {
	if len(labels) == 0 {
		return models.ClassificationLabel{}, false
	}
	top := labels[0]
	top.Label = strings.TrimSpace(top.Label)
	if top.Label == "" || top.Confidence < s.opts.MinConfidence {
		return top, false
	}
	if _, denied := s.denylist[strings.ToLower(top.Label)]; denied {
		return top, false
	}
	return top, true
}

func (s *Service) rejectImage(ctx context.Context) Outcome {
	noResult := models.NoResult
	view := ResultView{
		State:   StateUnrecognized,
		Query:   models.UnrecognizedImageQuery,
		Result:  &noResult,
		Message: "No relevant result for this image.",
	}
	s.render(view)
	hist := s.record(ctx, models.HistoryEntry{
		Query:   models.UnrecognizedImageQuery,
		Kind:    models.EntryImage,
		Status:  models.StatusUnrecognized,
		Results: []models.SearchResult{models.NoResult},
	})
	s.notifier.Notify("No relevant result found for this image. Try another photo.", notify.IconFailure, s.opts.PopupDismissAfter)
	return Outcome{View: view, History: hist}
}

func (s *Service) unavailable() error {
	s.notifier.Notify("Image search is unavailable right now. Text search still works.", notify.IconFailure, s.opts.PopupDismissAfter)
	return fmt.Errorf("%w: image classifier", models.ErrUnavailable)
}

func (s *Service) notReady() error {
	s.notifier.Notify("The image classifier is still loading. Please wait a moment and try again.", notify.IconWait, s.opts.PopupDismissAfter)
	return fmt.Errorf("%w: image classifier", models.ErrNotReady)
}

// record appends entry and refreshes the history view once. Persistence
// failures are logged and never undo the render.
func (s *Service) record(ctx context.Context, entry models.HistoryEntry) []models.HistoryEntry {
	log := s.logger(ctx)
	// the write must land even if the caller goes away after the render
	ctx = context.WithoutCancel(ctx)

	if err := s.history.Append(ctx, entry); err != nil {
		log.Warn().Err(err).Str("query", entry.Query).Msg("history append failed")
	}

	entries, err := s.history.Recent(ctx, s.opts.HistoryCap)
	if err != nil {
		log.Warn().Err(err).Msg("history refresh failed")
		return s.View().History
	}
	s.setHistory(entries)
	return entries
}

// logger prefers the request logger on ctx, tagged with this component.
func (s *Service) logger(ctx context.Context) *zerolog.Logger {
	ctxLog := logging.FromContext(ctx, nil)
	if ctxLog == nil {
		return &s.log
	}
	l := ctxLog.With().Str("component", "search").Logger()
	return &l
}

func percent(confidence float64) int {
	return int(confidence*100 + 0.5)
}
