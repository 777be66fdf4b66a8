package search

// AnnotationRecord is the data we index for an annotation.
type AnnotationRecord struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	DocumentURI string `json:"documentUri"`
	GroupName   string `json:"groupName"`
	Shared      bool   `json:"shared"`
	Status      string `json:"status"`
}

// Query describes a search request.
type Query struct {
	Text        string
	DocumentURI string // empty = all documents
	GroupName   string // empty = all groups
	Limit       int
	Offset      int
}

// Result is a single search hit returned to the caller.
type Result struct {
	ID          string `json:"id"`
	Snippet     string `json:"snippet"`
	DocumentURI string `json:"documentUri"`
	GroupName   string `json:"groupName"`
}

// Response is the envelope returned by the search service.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over annotations.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push annotations into a search index.
type Indexer interface {
	IndexAnnotation(rec AnnotationRecord) error
	DeleteAnnotation(id string) error
}
