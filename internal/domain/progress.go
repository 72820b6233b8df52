package domain

// Progress is a point-in-time snapshot of a migration run.
type Progress struct {
	// Total is the number of posts selected for this run.
	Total int `json:"total"`

	// Launched is the number of publish tasks started so far.
	Launched int `json:"launched"`

	Published int `json:"published"`
	Failed    int `json:"failed"`

	// Skipped counts posts found to exist on the destination already.
	Skipped int `json:"skipped"`

	// QuotesPublished counts quoted posts published ahead of their quoter.
	QuotesPublished int `json:"quotes_published"`

	// Checkpoint is the last checkpoint written, in canonical form.
	Checkpoint string `json:"checkpoint,omitempty"`

	DryRun bool `json:"dry_run"`
}

// Done reports whether every selected post has finished.
func (p Progress) Done() bool {
	return p.Published+p.Failed+p.Skipped >= p.Total
}
