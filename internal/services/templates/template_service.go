package templates

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/easel/internal/interfaces"
	"github.com/ternarybob/easel/internal/models"
)

var placeholderPattern = regexp.MustCompile(`\{\{([a-zA-Z0-9_]+)\}\}`)

// Service loads workflow templates from a manifest directory and builds
// concrete job graphs from them. Templates are read once at startup; Build
// works on clones so the loaded graphs stay pristine.
type Service struct {
	dir      string
	validate *validator.Validate
	logger   arbor.ILogger

	mu      sync.RWMutex
	entries []models.TemplateEntry
	graphs  map[string]models.WorkflowGraph
}

// NewService creates a template service rooted at dir. Call LoadAll before
// first use.
func NewService(dir string, logger arbor.ILogger) interfaces.TemplateService {
	return &Service{
		dir:      dir,
		validate: validator.New(),
		logger:   logger,
		graphs:   make(map[string]models.WorkflowGraph),
	}
}

type manifestFile struct {
	Templates []models.TemplateEntry `yaml:"templates"`
}

// LoadAll reads manifest.yaml and every graph file it references.
func (s *Service) LoadAll() error {
	data, err := os.ReadFile(filepath.Join(s.dir, "manifest.yaml"))
	if err != nil {
		return models.WrapError(models.ErrConfig, "failed to read template manifest", err)
	}

	var manifest manifestFile
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return models.WrapError(models.ErrConfig, "failed to parse template manifest", err)
	}
	if len(manifest.Templates) == 0 {
		return models.NewError(models.ErrConfig, "template manifest is empty")
	}

	graphs := make(map[string]models.WorkflowGraph, len(manifest.Templates))
	for i := range manifest.Templates {
		entry := &manifest.Templates[i]
		if err := s.validate.Struct(entry); err != nil {
			return models.WrapError(models.ErrConfig, "invalid template manifest entry", err)
		}
		if _, dup := graphs[entry.Name]; dup {
			return models.Errorf(models.ErrConfig, "duplicate template name %q", entry.Name)
		}

		raw, err := os.ReadFile(filepath.Join(s.dir, entry.File))
		if err != nil {
			return models.WrapError(models.ErrConfig, fmt.Sprintf("failed to read template graph %s", entry.File), err)
		}
		var graph models.WorkflowGraph
		if err := json.Unmarshal(raw, &graph); err != nil {
			return models.WrapError(models.ErrConfig, fmt.Sprintf("failed to parse template graph %s", entry.File), err)
		}
		if len(graph) == 0 {
			return models.Errorf(models.ErrConfig, "template graph %s is empty", entry.File)
		}
		graphs[entry.Name] = graph
	}

	s.mu.Lock()
	s.entries = manifest.Templates
	s.graphs = graphs
	s.mu.Unlock()

	s.logger.Info().Int("templates", len(manifest.Templates)).Msg("Workflow templates loaded")
	return nil
}

// Select returns the first manifest entry serving the model family whose
// flags fit the request. Image support must match exactly; a template that
// accepts adapters can also serve requests without any.
func (s *Service) Select(modelFamily string, needsImg2Img, needsAdapters bool) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.entries {
		entry := &s.entries[i]
		if !entry.SupportsFamily(modelFamily) {
			continue
		}
		if entry.AcceptsImage != needsImg2Img {
			continue
		}
		if needsAdapters && !entry.AcceptsAdapter {
			continue
		}
		return entry.Name, nil
	}
	return "", models.Errorf(models.ErrNotFound, "no template for family %q (img2img=%v, adapters=%v)", modelFamily, needsImg2Img, needsAdapters)
}

// Build clones the named template and substitutes {{name}} placeholders with
// params merged over the entry's defaults.
func (s *Service) Build(name string, params map[string]interface{}) (models.WorkflowGraph, error) {
	s.mu.RLock()
	entry, graph, err := s.lookup(name)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	merged := make(map[string]interface{}, len(entry.Defaults)+len(params))
	for k, v := range entry.Defaults {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}

	out := graph.Clone()
	for nodeID, node := range out {
		for key, value := range node.Inputs {
			resolved, err := substitute(value, merged)
			if err != nil {
				return nil, models.Errorf(models.ErrMissingParameter, "template %s node %s input %s: %s", name, nodeID, key, err)
			}
			node.Inputs[key] = resolved
		}
	}
	return out, nil
}

// substitute resolves placeholders in one input value. A string that is
// exactly one placeholder takes the parameter's raw type; placeholders
// embedded in longer strings are rendered as text.
func substitute(value interface{}, params map[string]interface{}) (interface{}, error) {
	str, ok := value.(string)
	if !ok {
		return value, nil
	}

	if m := placeholderPattern.FindStringSubmatch(str); m != nil && m[0] == str {
		v, ok := params[m[1]]
		if !ok {
			return nil, fmt.Errorf("unresolved placeholder {{%s}}", m[1])
		}
		return v, nil
	}

	var missing string
	result := placeholderPattern.ReplaceAllStringFunc(str, func(match string) string {
		key := strings.Trim(match, "{}")
		v, ok := params[key]
		if !ok {
			missing = key
			return match
		}
		return fmt.Sprintf("%v", v)
	})
	if missing != "" {
		return nil, fmt.Errorf("unresolved placeholder {{%s}}", missing)
	}
	return result, nil
}

// InjectAdapters chains adapter loader nodes between the checkpoint loader
// and its downstream consumers, in adapter order. The last adapter in the
// chain feeds every original consumer of the loader's model and clip slots.
func (s *Service) InjectAdapters(name string, graph models.WorkflowGraph, adapters []models.AdapterSpec) (models.WorkflowGraph, error) {
	if len(adapters) == 0 {
		return graph, nil
	}

	s.mu.RLock()
	entry, _, err := s.lookup(name)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if !entry.AcceptsAdapter {
		return nil, models.Errorf(models.ErrUnsupportedAdapter, "template %s does not accept adapters", name)
	}

	loaderID := findModelLoader(graph)
	if loaderID == "" {
		return nil, models.Errorf(models.ErrUnsupportedAdapter, "template %s has no model loader node", name)
	}

	out := graph.Clone()

	prevID := loaderID
	var lastID string
	for i, adapter := range adapters {
		id := fmt.Sprintf("adapter_%d", i+1)
		out[id] = &models.WorkflowNode{
			ClassType: "LoraLoader",
			Inputs: map[string]interface{}{
				"lora_name":      adapter.Name,
				"strength_model": adapter.StrengthModel,
				"strength_clip":  adapter.StrengthClip,
				"model":          []interface{}{prevID, 0},
				"clip":           []interface{}{prevID, 1},
			},
		}
		prevID = id
		lastID = id
	}

	// Rewire every original consumer of the loader's model (slot 0) and clip
	// (slot 1) outputs to the end of the adapter chain.
	for nodeID, node := range out {
		if strings.HasPrefix(nodeID, "adapter_") {
			continue
		}
		for key, value := range node.Inputs {
			conn, ok := value.([]interface{})
			if !ok || len(conn) != 2 {
				continue
			}
			ref, ok := conn[0].(string)
			if !ok || ref != loaderID {
				continue
			}
			if slot := connectionSlot(conn[1]); slot == 0 || slot == 1 {
				node.Inputs[key] = []interface{}{lastID, slot}
			}
		}
	}

	return out, nil
}

// Entries returns a copy of the loaded manifest.
func (s *Service) Entries() []models.TemplateEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.TemplateEntry(nil), s.entries...)
}

func (s *Service) lookup(name string) (*models.TemplateEntry, models.WorkflowGraph, error) {
	for i := range s.entries {
		if s.entries[i].Name == name {
			return &s.entries[i], s.graphs[name], nil
		}
	}
	return nil, nil, models.Errorf(models.ErrNotFound, "template not found: %s", name)
}

// findModelLoader returns the id of the checkpoint loader node, or "".
func findModelLoader(graph models.WorkflowGraph) string {
	for id, node := range graph {
		if strings.Contains(node.ClassType, "CheckpointLoader") {
			return id
		}
	}
	return ""
}

// connectionSlot normalizes the slot half of a [node-id, slot] pair; JSON
// decodes numbers as float64 while cloned literals may stay int.
func connectionSlot(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return -1
}
