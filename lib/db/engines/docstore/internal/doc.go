// Package internal contains the document representation of the docstore engine:
// the B-tree item type and the JSON helpers (key extraction and shallow merge)
// built on github.com/buger/jsonparser.
package internal
