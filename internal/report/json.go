package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/chanyong1027/evalstudio/internal/analysis"
	"github.com/chanyong1027/evalstudio/internal/hash"
)

// Document is the JSON report of one analysis. Fingerprint is the canonical
// digest of View, so two reports of the same state compare equal.
type Document struct {
	Fingerprint string        `json:"fingerprint"`
	View        analysis.View `json:"view"`
}

func NewDocument(v analysis.View) (Document, error) {
	fp, err := hash.Digest(v)
	if err != nil {
		return Document{}, fmt.Errorf("fingerprint view: %w", err)
	}
	return Document{Fingerprint: fp, View: v}, nil
}

func EncodeJSON(w io.Writer, v analysis.View) error {
	doc, err := NewDocument(v)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func WriteJSON(path string, v analysis.View) error {
	doc, err := NewDocument(v)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
