package ontology

import "regexp"

// DocumentIDPattern matches ERP-style document names like SINV-ACME-2025-104:
// an uppercase series prefix, a code segment, a year, and a sequence number.
var DocumentIDPattern = regexp.MustCompile(`\b[A-Z]{2,}-[A-Z0-9]+-\d{4}-\d+\b`)

// FindDocumentID returns the first document ID mentioned in text, or "".
func FindDocumentID(text string) string {
	return DocumentIDPattern.FindString(text)
}
