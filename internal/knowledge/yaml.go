package knowledge

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// ExportYAML writes every document as a YAML sequence.
func (s *Store) ExportYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s.List()); err != nil {
		return fmt.Errorf("encoding documents: %w", err)
	}
	return enc.Close()
}

// ImportYAML reads a YAML sequence of documents and adds each one as new.
// Ids and dates in the input are ignored. An invalid entry rejects the
// whole file.
func (s *Store) ImportYAML(r io.Reader) ([]Document, error) {
	var in []Candidate
	if err := yaml.NewDecoder(r).Decode(&in); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: decoding documents: %w", ErrValidation, err)
	}
	return s.AddAll(in)
}
