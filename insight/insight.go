// Package insight defines the domain types shared across the pipeline:
// repositories under analysis, detected topics, generated metric items, and
// review verdicts.
package insight

// Repository identifies one repository analyzed by a run.
type Repository struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	CloneURL string `json:"clone_url"`
}

// Topic is one area of the codebase worth measuring, detected by the
// exploration stage (e.g. "Auth", "Payments").
type Topic struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// MetricItem is one generated insight: a concrete, measurable metric
// proposal for a topic.
type MetricItem struct {
	ID          string `json:"id"`
	Topic       string `json:"topic"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	// Query is the suggested way to compute the metric, e.g. a command or
	// expression over the repository.
	Query string `json:"query,omitempty"`
}

// Review is the judgment stage's verdict on one metric item.
type Review struct {
	ItemID    string `json:"item_id"`
	Approved  bool   `json:"approved"`
	Reasoning string `json:"reasoning,omitempty"`
}
