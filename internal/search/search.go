package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	AuthorID string `json:"authorId"`
	TypeCode string `json:"typeCode"`
}

// Query describes a search request against public timelines.
type Query struct {
	Text           string
	FilterTypeCode string // empty = all timeline types
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

// TimelineRecord is the data we index for a public timeline.
type TimelineRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	AuthorID    string `json:"authorId"`
	TypeCode    string `json:"typeCode"`
}
