package syncer

import (
	"context"

	"github.com/rafaeljc/nornir/internal/recipe"
	"github.com/rafaeljc/nornir/internal/validation"
)

// RecipeSource delivers the complete recipe batch of one named source.
// Enrollments are tagged with Name so Finalize only touches its own.
type RecipeSource interface {
	Name() string
	Fetch(ctx context.Context) ([]*recipe.Recipe, error)
}

// DirSource reads recipes from the JSON and YAML files of a directory.
type DirSource struct {
	name string
	dir  string
}

// NewDirSource creates a DirSource.
func NewDirSource(name, dir string) *DirSource {
	validation.Require(name != "", "syncer: source name cannot be empty")
	return &DirSource{name: name, dir: dir}
}

// Name returns the source name.
func (s *DirSource) Name() string {
	return s.name
}

// Fetch loads every recipe file. A file that fails to parse fails the whole
// batch, so a broken deploy never looks like deleted recipes.
func (s *DirSource) Fetch(ctx context.Context) ([]*recipe.Recipe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return recipe.LoadDir(s.dir)
}
