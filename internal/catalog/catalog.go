// Package catalog provides the read-only chapter/template catalog for StoryLoom.
//
// The catalog is loaded once at startup and queried by order from many
// sessions concurrently. It is immutable after load; administrative reseeds
// build a fresh snapshot and swap it in.
package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	_ "embed"

	"github.com/storyloom/storyloom/internal/models"
)

//go:embed seed.json
var defaultSeed []byte

// Catalog is an immutable snapshot of chapters ordered by chapter order.
// All lookups are safe for concurrent use.
type Catalog struct {
	chapters []models.Chapter
	total    int
}

// New builds a catalog snapshot from the given chapters. It fails with
// models.ErrEmptyCatalog when no chapter carries a template, and with
// models.ErrCatalogLoad when orders are missing, duplicated, or non-dense.
func New(chapters []models.Chapter) (*Catalog, error) {
	if len(chapters) == 0 {
		return nil, models.ErrEmptyCatalog
	}

	sorted := make([]models.Chapter, len(chapters))
	copy(sorted, chapters)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	total := 0
	for i := range sorted {
		ch := &sorted[i]
		if ch.Order != i+1 {
			return nil, fmt.Errorf("%w: chapter %q has order %d, want %d", models.ErrCatalogLoad, ch.ChapterID, ch.Order, i+1)
		}
		if ch.ChapterID == "" || ch.Name == "" {
			return nil, fmt.Errorf("%w: chapter at order %d missing id or name", models.ErrCatalogLoad, ch.Order)
		}
		sort.Slice(ch.Templates, func(a, b int) bool { return ch.Templates[a].Order < ch.Templates[b].Order })
		for j := range ch.Templates {
			tmpl := &ch.Templates[j]
			if tmpl.Order != j+1 {
				return nil, fmt.Errorf("%w: template %q in chapter %q has order %d, want %d", models.ErrCatalogLoad, tmpl.TemplateID, ch.ChapterID, tmpl.Order, j+1)
			}
			if tmpl.TemplateID == "" || tmpl.MainQuestion == "" {
				return nil, fmt.Errorf("%w: template at %d/%d missing id or main question", models.ErrCatalogLoad, ch.Order, tmpl.Order)
			}
			tmpl.ChapterID = ch.ChapterID
		}
		total += len(ch.Templates)
	}
	if total == 0 {
		return nil, models.ErrEmptyCatalog
	}

	slog.Debug("Catalog.New: snapshot built", "chapters", len(sorted), "templates", total)
	return &Catalog{chapters: sorted, total: total}, nil
}

// Chapters returns the ordered chapter sequence. Callers must not mutate it.
func (c *Catalog) Chapters() []models.Chapter {
	return c.chapters
}

// ChapterCount returns the number of chapters.
func (c *Catalog) ChapterCount() int {
	return len(c.chapters)
}

// TotalTemplates returns the number of templates across all chapters.
func (c *Catalog) TotalTemplates() int {
	return c.total
}

// ChapterAt returns the chapter with the given 1-based order.
func (c *Catalog) ChapterAt(chapterOrder int) (*models.Chapter, error) {
	if chapterOrder < 1 || chapterOrder > len(c.chapters) {
		return nil, fmt.Errorf("%w: chapter order %d of %d", models.ErrChapterNotFound, chapterOrder, len(c.chapters))
	}
	return &c.chapters[chapterOrder-1], nil
}

// TemplateAt returns the template at the given 1-based chapter and template orders.
func (c *Catalog) TemplateAt(chapterOrder, templateOrder int) (*models.Template, error) {
	ch, err := c.ChapterAt(chapterOrder)
	if err != nil {
		return nil, err
	}
	if templateOrder < 1 || templateOrder > len(ch.Templates) {
		return nil, fmt.Errorf("%w: template order %d of %d in chapter %d", models.ErrTemplateNotFound, templateOrder, len(ch.Templates), chapterOrder)
	}
	return &ch.Templates[templateOrder-1], nil
}

// TemplateCount returns the number of templates in the chapter with the given order.
func (c *Catalog) TemplateCount(chapterOrder int) (int, error) {
	ch, err := c.ChapterAt(chapterOrder)
	if err != nil {
		return 0, err
	}
	return len(ch.Templates), nil
}

// seedFile is the JSON shape of a catalog seed document.
type seedFile struct {
	Chapters []models.Chapter `json:"chapters"`
}

// ParseSeed decodes a catalog seed document into chapter definitions.
func ParseSeed(data []byte) ([]models.Chapter, error) {
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrCatalogLoad, err)
	}
	if len(seed.Chapters) == 0 {
		return nil, models.ErrEmptyCatalog
	}
	return seed.Chapters, nil
}

// DefaultSeed returns the chapter definitions embedded with the binary.
func DefaultSeed() ([]models.Chapter, error) {
	return ParseSeed(defaultSeed)
}

// LoadDefault builds a catalog from the embedded seed.
func LoadDefault() (*Catalog, error) {
	chapters, err := DefaultSeed()
	if err != nil {
		return nil, err
	}
	return New(chapters)
}
