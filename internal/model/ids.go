package model

import "strconv"

// subjectIDFromUint renders a KnowledgeBase's numeric ID as the opaque
// subject_id string stored in permission_doc_link and passed around the
// retrieval path. Kept as a single conversion point so the format can
// change without touching every caller.
func subjectIDFromUint(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
