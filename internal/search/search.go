package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultModel ResultType = "model"
	ResultWork  ResultType = "work"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	Category string     `json:"category,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text           string
	FilterType     ResultType // empty = all types
	FilterCategory string
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ModelRecord is the data we index for a model profile.
type ModelRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Category    string `json:"category"`
	Instagram   string `json:"instagram"`
}

// WorkRecord is the data we index for a work entry.
type WorkRecord struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}
