package firehose

// jetstreamEvent is one message from Jetstream.
type jetstreamEvent struct {
	DID    string           `json:"did"`
	TimeUS int64            `json:"time_us"`
	Kind   string           `json:"kind"`
	Commit *jetstreamCommit `json:"commit,omitempty"`
}

// jetstreamCommit is a repo operation carried by a commit event.
type jetstreamCommit struct {
	Rev        string      `json:"rev"`
	Operation  string      `json:"operation"`
	Collection string      `json:"collection"`
	RKey       string      `json:"rkey"`
	Record     *postRecord `json:"record,omitempty"`
	CID        string      `json:"cid"`
}

// uri returns the at:// address of the record the commit touches.
func (e *jetstreamEvent) uri() string {
	return "at://" + e.DID + "/" + e.Commit.Collection + "/" + e.Commit.RKey
}

// text returns the post text carried by the commit, if any.
func (c *jetstreamCommit) text() string {
	if c.Record == nil {
		return ""
	}
	return c.Record.Text
}

// postRecord is the part of an app.bsky.feed.post record logged on
// confirmation.
type postRecord struct {
	Type      string `json:"$type"`
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt"`
}
