package search

import "wikiseek/internal/models"

type ResultState string

const (
	StateIdle         ResultState = "idle"
	StateLoading      ResultState = "loading"
	StateFound        ResultState = "found"
	StateNotFound     ResultState = "not_found"
	StateUnrecognized ResultState = "unrecognized"
)

// ResultView is the content of the results region.
type ResultView struct {
	State           ResultState          `json:"state"`
	Query           string               `json:"query,omitempty"`
	Result          *models.SearchResult `json:"result,omitempty"`
	ManualSearchURL string               `json:"manualSearchUrl,omitempty"`
	Message         string               `json:"message,omitempty"`
}

// ViewState is everything the widget displays apart from the popup.
type ViewState struct {
	Result      ResultView            `json:"result"`
	SearchInput string                `json:"searchInput"`
	History     []models.HistoryEntry `json:"history"`
}

// View returns a copy of the current display state.
func (s *Service) View() ViewState {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.view
	if v.Result.Result != nil {
		res := *v.Result.Result
		v.Result.Result = &res
	}
	v.History = cloneEntries(v.History)
	return v
}

func (s *Service) render(view ResultView) {
	s.mu.Lock()
	s.view.Result = view
	s.mu.Unlock()
}

func (s *Service) setInput(query string) {
	s.mu.Lock()
	s.view.SearchInput = query
	s.mu.Unlock()
}

func (s *Service) setHistory(entries []models.HistoryEntry) {
	s.mu.Lock()
	s.view.History = cloneEntries(entries)
	s.mu.Unlock()
}

func cloneEntries(entries []models.HistoryEntry) []models.HistoryEntry {
	out := make([]models.HistoryEntry, len(entries))
	copy(out, entries)
	return out
}
