package docstore

// Key layout for persisted documents. All keys are further namespaced by
// the store's configured prefix.

// ArchiveKey is the catalog key for an ArchiveRecord.
func ArchiveKey(contentHash string) string {
	return "archive:" + contentHash
}

// RunKey is the memo key for a RunRecord.
func RunKey(cacheKey string) string {
	return "run:" + cacheKey
}

// WorkflowKey is the snapshot key for a workflow state document.
func WorkflowKey(workflowID string) string {
	return "workflow:" + workflowID
}
