package memory

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/emart/api/internal/query"
)

// Seed maps collection names to the documents inserted at startup.
type Seed map[string][]map[string]any

// LoadSeedFile reads a YAML seed file and inserts its documents.
func (s *Store) LoadSeedFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("memory: open seed: %w", err)
	}
	defer f.Close()
	return s.LoadSeed(ctx, f)
}

// LoadSeed decodes a YAML document of the form {collection: [documents]} and inserts every document
// in file order. Collections are loaded alphabetically.
func (s *Store) LoadSeed(ctx context.Context, r io.Reader) error {
	var seed Seed
	if err := yaml.NewDecoder(r).Decode(&seed); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("memory: decode seed: %w", err)
	}

	names := make([]string, 0, len(seed))
	for name := range seed {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for i, raw := range seed[name] {
			doc := query.Document(raw)
			if doc.ID() == "" {
				return fmt.Errorf("memory: seed %s[%d] missing %s", name, i, query.IDField)
			}
			if err := s.Insert(ctx, name, doc); err != nil {
				return fmt.Errorf("memory: seed %s[%d]: %w", name, i, err)
			}
		}
	}
	return nil
}
