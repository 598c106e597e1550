package interfaces

import "github.com/ternarybob/easel/internal/models"

// TemplateService turns (template-name, parameters) into concrete job graphs.
type TemplateService interface {
	// LoadAll reads the manifest and every referenced graph file.
	LoadAll() error

	// Select returns the first manifest entry matching the flags, in
	// manifest order. Returns NotFound when nothing matches.
	Select(modelFamily string, needsImg2Img, needsAdapters bool) (string, error)

	// Build substitutes {{name}} placeholders with params merged over the
	// entry's defaults. Unresolved placeholders fail with MissingParameter.
	Build(name string, params map[string]interface{}) (models.WorkflowGraph, error)

	// InjectAdapters chains adapter loader nodes between the model loader
	// and its consumers. Fails with UnsupportedAdapter when the entry
	// forbids adapters. An empty list is a no-op.
	InjectAdapters(name string, graph models.WorkflowGraph, adapters []models.AdapterSpec) (models.WorkflowGraph, error)

	// Entries returns the loaded manifest.
	Entries() []models.TemplateEntry
}
