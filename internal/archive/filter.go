package archive

// FilterReplies returns the records that are not replies, in their
// original order.
func FilterReplies(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.IsReply() {
			continue
		}
		out = append(out, r)
	}
	return out
}
