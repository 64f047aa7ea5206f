package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/emart/api/internal/domain"
	"github.com/emart/api/internal/platform/pagination"
	"github.com/emart/api/internal/platform/textutil"
	"github.com/emart/api/internal/query"
	"github.com/emart/api/internal/repositories"
)

const maxCategoryDepth = 32

var (
	// ErrCategoryInvalidInput signals invalid category data.
	ErrCategoryInvalidInput = errors.New("category: invalid input")
	// ErrCategoryNotFound indicates the category could not be located.
	ErrCategoryNotFound = errors.New("category: not found")
	// ErrCategoryConflict indicates a duplicate name or slug.
	ErrCategoryConflict = errors.New("category: conflict")
)

var categoryCardFields = []string{"name", "slug", "description", "image", "isFeatured", "isActive"}

// CategoryServiceDeps bundles collaborators for the category service.
type CategoryServiceDeps struct {
	Categories  repositories.CategoryRepository
	Engine      query.Engine
	Builder     *query.Builder
	Pipelines   PipelineRunner
	Relations   RelationCache
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type categoryService struct {
	categories repositories.CategoryRepository
	engine     query.Engine
	builder    *query.Builder
	pipelines  PipelineRunner
	relations  RelationCache
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewCategoryService constructs the category service. Relations is optional; when set, every write
// invalidates the cached category relation.
func NewCategoryService(deps CategoryServiceDeps) (CategoryService, error) {
	if deps.Categories == nil {
		return nil, errors.New("category service: category repository is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("category service: query engine is required")
	}
	if deps.Pipelines == nil {
		return nil, errors.New("category service: pipeline runner is required")
	}
	builder := deps.Builder
	if builder == nil {
		builder = query.NewBuilder(nil)
	}
	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &categoryService{
		categories: deps.Categories,
		engine:     deps.Engine,
		builder:    builder,
		pipelines:  deps.Pipelines,
		relations:  deps.Relations,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *categoryService) ListCategories(ctx context.Context, desc query.Descriptor) (pagination.Envelope[Category], error) {
	desc.Entity = query.EntityCategories
	plan, err := s.builder.Build(desc)
	if err != nil {
		return pagination.Envelope[Category]{}, err
	}
	page, err := s.pipelines.Execute(ctx, plan)
	if err != nil {
		return pagination.Envelope[Category]{}, err
	}
	return pagination.Map(page, domain.CategoryFromDocument), nil
}

func (s *categoryService) AllCategories(ctx context.Context) ([]Category, error) {
	return s.aggregate(ctx, []query.Stage{
		query.Project{Fields: categoryCardFields},
		query.Sort{Keys: []query.SortKey{{Field: "name"}}},
	})
}

func (s *categoryService) FeaturedCategories(ctx context.Context) ([]Category, error) {
	return s.aggregate(ctx, []query.Stage{
		query.Match{Predicate: query.AllOf(
			query.Eq{Field: "isFeatured", Value: true},
			query.Eq{Field: "isActive", Value: true},
		)},
		query.Project{Fields: categoryCardFields},
		query.Sort{Keys: []query.SortKey{{Field: "name"}}},
	})
}

func (s *categoryService) CreateCategory(ctx context.Context, cmd CreateCategoryCommand) (Category, error) {
	name := textutil.PlainText(cmd.Name)
	if name == "" {
		return Category{}, fmt.Errorf("%w: category name is required", ErrCategoryInvalidInput)
	}
	slug := textutil.Slugify(cmd.Slug)
	if slug == "" {
		slug = textutil.Slugify(name)
	}
	if slug == "" {
		return Category{}, fmt.Errorf("%w: category name %q yields an empty slug", ErrCategoryInvalidInput, name)
	}

	now := s.clock()
	category := Category{
		ID:          s.newID(),
		Name:        name,
		Slug:        slug,
		Description: textutil.RichText(cmd.Description),
		ParentID:    strings.TrimSpace(cmd.ParentID),
		Image:       strings.TrimSpace(cmd.Image),
		IsFeatured:  cmd.IsFeatured,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if cmd.IsActive != nil {
		category.IsActive = *cmd.IsActive
	}

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		if category.ParentID != "" {
			if err := s.checkParent(txCtx, category.ID, category.ParentID); err != nil {
				return err
			}
		}
		if err := s.categories.Insert(txCtx, category); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Category{}, err
	}

	s.invalidate(category.ID, category.Slug, category.Name)
	s.logger(ctx, "category.created", map[string]any{"category": category.ID, "slug": category.Slug})
	return category, nil
}

func (s *categoryService) UpdateCategory(ctx context.Context, categoryID string, patch CategoryPatch) (Category, error) {
	categoryID = strings.TrimSpace(categoryID)
	if categoryID == "" {
		return Category{}, fmt.Errorf("%w: category id is required", ErrCategoryInvalidInput)
	}

	var previous, updated Category
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.categories.Get(txCtx, categoryID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		previous = current
		if err := applyCategoryPatch(&current, patch); err != nil {
			return err
		}
		if patch.ParentID != nil && current.ParentID != "" && current.ParentID != previous.ParentID {
			if err := s.checkParent(txCtx, current.ID, current.ParentID); err != nil {
				return err
			}
		}
		current.UpdatedAt = s.clock()
		if err := s.categories.Replace(txCtx, current); err != nil {
			return s.mapRepositoryError(err)
		}
		updated = current
		return nil
	})
	if err != nil {
		return Category{}, err
	}

	s.invalidate(updated.ID, previous.Slug, previous.Name, updated.Slug, updated.Name)
	s.logger(ctx, "category.updated", map[string]any{"category": updated.ID, "slug": updated.Slug})
	return updated, nil
}

func applyCategoryPatch(category *Category, patch CategoryPatch) error {
	if patch.Name != nil {
		name := textutil.PlainText(*patch.Name)
		if name == "" {
			return fmt.Errorf("%w: category name must not be empty", ErrCategoryInvalidInput)
		}
		if name != category.Name && patch.Slug == nil {
			category.Slug = textutil.Slugify(name)
		}
		category.Name = name
	}
	if patch.Slug != nil {
		slug := textutil.Slugify(*patch.Slug)
		if slug == "" {
			return fmt.Errorf("%w: category slug must not be empty", ErrCategoryInvalidInput)
		}
		category.Slug = slug
	}
	if category.Slug == "" {
		return fmt.Errorf("%w: category name %q yields an empty slug", ErrCategoryInvalidInput, category.Name)
	}
	if patch.Description != nil {
		category.Description = textutil.RichText(*patch.Description)
	}
	if patch.ParentID != nil {
		parentID := strings.TrimSpace(*patch.ParentID)
		if parentID == category.ID {
			return fmt.Errorf("%w: category cannot be its own parent", ErrCategoryInvalidInput)
		}
		category.ParentID = parentID
	}
	if patch.Image != nil {
		category.Image = strings.TrimSpace(*patch.Image)
	}
	if patch.IsFeatured != nil {
		category.IsFeatured = *patch.IsFeatured
	}
	if patch.IsActive != nil {
		category.IsActive = *patch.IsActive
	}
	return nil
}

// checkParent walks the ancestors of parentID and rejects missing parents and cycles through
// categoryID.
func (s *categoryService) checkParent(ctx context.Context, categoryID, parentID string) error {
	seen := map[string]struct{}{categoryID: {}}
	for id, depth := parentID, 0; id != ""; depth++ {
		if _, loop := seen[id]; loop {
			return fmt.Errorf("%w: parent %s would create a cycle", ErrCategoryInvalidInput, parentID)
		}
		if depth >= maxCategoryDepth {
			return fmt.Errorf("%w: category tree deeper than %d", ErrCategoryInvalidInput, maxCategoryDepth)
		}
		seen[id] = struct{}{}
		parent, err := s.categories.Get(ctx, id)
		if err != nil {
			if repositories.IsNotFound(err) {
				return fmt.Errorf("%w: parent category %s does not exist", ErrCategoryInvalidInput, id)
			}
			return s.mapRepositoryError(err)
		}
		id = parent.ParentID
	}
	return nil
}

func (s *categoryService) DeleteCategory(ctx context.Context, categoryID string) error {
	categoryID = strings.TrimSpace(categoryID)
	if categoryID == "" {
		return fmt.Errorf("%w: category id is required", ErrCategoryInvalidInput)
	}
	if err := s.categories.Delete(ctx, categoryID); err != nil {
		return s.mapRepositoryError(err)
	}
	s.invalidate(categoryID)
	s.logger(ctx, "category.deleted", map[string]any{"category": categoryID})
	return nil
}

func (s *categoryService) aggregate(ctx context.Context, stages []query.Stage) ([]Category, error) {
	docs, err := s.engine.Aggregate(ctx, repositories.CollectionCategories, stages)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	categories := make([]Category, 0, len(docs))
	for _, doc := range docs {
		categories = append(categories, domain.CategoryFromDocument(doc))
	}
	return categories, nil
}

func (s *categoryService) invalidate(keys ...string) {
	if s.relations == nil {
		return
	}
	s.relations.Invalidate(repositories.CollectionCategories, keys...)
}

func (s *categoryService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCategoryNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCategoryConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("category: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *categoryService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}
