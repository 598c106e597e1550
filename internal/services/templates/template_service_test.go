package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/easel/internal/interfaces"
	"github.com/ternarybob/easel/internal/models"
)

const testManifest = `templates:
  - name: sdxl_txt2img
    file: sdxl_txt2img.json
    families: [sdxl]
    accepts_image: false
    accepts_adapters: true
    defaults:
      steps: 25
      cfg: 7.5
      sampler: euler
  - name: sdxl_img2img
    file: sdxl_img2img.json
    families: [sdxl]
    accepts_image: true
    accepts_adapters: true
    defaults:
      steps: 20
      cfg: 7.0
      sampler: euler
      denoise: 0.6
  - name: sd15_txt2img
    file: sd15_txt2img.json
    families: [sd15]
    accepts_image: false
    accepts_adapters: false
    defaults:
      steps: 20
      cfg: 7.0
      sampler: euler
`

const testGraph = `{
  "1": {
    "class_type": "CheckpointLoaderSimple",
    "inputs": {"ckpt_name": "{{model}}"}
  },
  "2": {
    "class_type": "CLIPTextEncode",
    "inputs": {"text": "{{prompt}}, best quality", "clip": ["1", 1]}
  },
  "3": {
    "class_type": "KSampler",
    "inputs": {
      "model": ["1", 0],
      "positive": ["2", 0],
      "seed": "{{seed}}",
      "steps": "{{steps}}",
      "cfg": "{{cfg}}",
      "sampler_name": "{{sampler}}"
    }
  }
}`

func newTestService(t *testing.T) interfaces.TemplateService {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte(testManifest), 0o644))
	for _, f := range []string{"sdxl_txt2img.json", "sdxl_img2img.json", "sd15_txt2img.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte(testGraph), 0o644))
	}

	svc := NewService(dir, arbor.NewLogger())
	require.NoError(t, svc.LoadAll())
	return svc
}

func TestSelect(t *testing.T) {
	svc := newTestService(t)

	t.Run("First matching entry wins", func(t *testing.T) {
		name, err := svc.Select("sdxl", false, false)
		require.NoError(t, err)
		require.Equal(t, "sdxl_txt2img", name)
	})

	t.Run("Image requirement matches exactly", func(t *testing.T) {
		name, err := svc.Select("sdxl", true, false)
		require.NoError(t, err)
		require.Equal(t, "sdxl_img2img", name)
	})

	t.Run("Adapter requirement excludes non-accepting templates", func(t *testing.T) {
		_, err := svc.Select("sd15", false, true)
		require.Error(t, err)
		require.True(t, models.IsKind(err, models.ErrNotFound))
	})

	t.Run("Unknown family", func(t *testing.T) {
		_, err := svc.Select("flux", false, false)
		require.Error(t, err)
		require.True(t, models.IsKind(err, models.ErrNotFound))
	})
}

func TestBuild(t *testing.T) {
	svc := newTestService(t)

	t.Run("Scalar placeholders keep the parameter type", func(t *testing.T) {
		graph, err := svc.Build("sdxl_txt2img", map[string]interface{}{
			"model":  "juggernaut_xl.safetensors",
			"prompt": "misty harbor at dawn",
			"seed":   42,
		})
		require.NoError(t, err)

		sampler := graph["3"]
		require.Equal(t, 42, sampler.Inputs["seed"])
		require.Equal(t, 25, sampler.Inputs["steps"])
		require.Equal(t, 7.5, sampler.Inputs["cfg"])
		require.Equal(t, "euler", sampler.Inputs["sampler_name"])
		require.Equal(t, "juggernaut_xl.safetensors", graph["1"].Inputs["ckpt_name"])
	})

	t.Run("Embedded placeholders render as text", func(t *testing.T) {
		graph, err := svc.Build("sdxl_txt2img", map[string]interface{}{
			"model":  "m.safetensors",
			"prompt": "misty harbor at dawn",
			"seed":   1,
		})
		require.NoError(t, err)
		require.Equal(t, "misty harbor at dawn, best quality", graph["2"].Inputs["text"])
	})

	t.Run("Params override defaults", func(t *testing.T) {
		graph, err := svc.Build("sdxl_txt2img", map[string]interface{}{
			"model":  "m.safetensors",
			"prompt": "p",
			"seed":   1,
			"steps":  40,
		})
		require.NoError(t, err)
		require.Equal(t, 40, graph["3"].Inputs["steps"])
	})

	t.Run("Unresolved placeholder fails", func(t *testing.T) {
		_, err := svc.Build("sdxl_txt2img", map[string]interface{}{
			"model": "m.safetensors",
			"seed":  1,
		})
		require.Error(t, err)
		require.True(t, models.IsKind(err, models.ErrMissingParameter))
	})

	t.Run("Build does not mutate the loaded template", func(t *testing.T) {
		_, err := svc.Build("sdxl_txt2img", map[string]interface{}{
			"model": "a.safetensors", "prompt": "p", "seed": 1,
		})
		require.NoError(t, err)
		graph, err := svc.Build("sdxl_txt2img", map[string]interface{}{
			"model": "b.safetensors", "prompt": "p", "seed": 1,
		})
		require.NoError(t, err)
		require.Equal(t, "b.safetensors", graph["1"].Inputs["ckpt_name"])
	})
}

func TestInjectAdapters(t *testing.T) {
	svc := newTestService(t)
	base, err := svc.Build("sdxl_txt2img", map[string]interface{}{
		"model": "m.safetensors", "prompt": "p", "seed": 1,
	})
	require.NoError(t, err)

	t.Run("Empty list is a no-op", func(t *testing.T) {
		graph, err := svc.InjectAdapters("sdxl_txt2img", base, nil)
		require.NoError(t, err)
		require.Len(t, graph, len(base))
	})

	t.Run("Single adapter rewires model and clip edges", func(t *testing.T) {
		graph, err := svc.InjectAdapters("sdxl_txt2img", base, []models.AdapterSpec{
			{Name: "detail_tweaker.safetensors", StrengthModel: 0.7, StrengthClip: 0.7},
		})
		require.NoError(t, err)

		lora := graph["adapter_1"]
		require.NotNil(t, lora)
		require.Equal(t, "LoraLoader", lora.ClassType)
		require.Equal(t, "detail_tweaker.safetensors", lora.Inputs["lora_name"])
		require.Equal(t, []interface{}{"1", 0}, lora.Inputs["model"])
		require.Equal(t, []interface{}{"1", 1}, lora.Inputs["clip"])

		require.Equal(t, []interface{}{"adapter_1", 0}, graph["3"].Inputs["model"])
		require.Equal(t, []interface{}{"adapter_1", 1}, graph["2"].Inputs["clip"])
	})

	t.Run("Multiple adapters chain in order", func(t *testing.T) {
		graph, err := svc.InjectAdapters("sdxl_txt2img", base, []models.AdapterSpec{
			{Name: "first.safetensors", StrengthModel: 0.8, StrengthClip: 0.8},
			{Name: "second.safetensors", StrengthModel: 0.5, StrengthClip: 0.5},
		})
		require.NoError(t, err)

		require.Equal(t, []interface{}{"1", 0}, graph["adapter_1"].Inputs["model"])
		require.Equal(t, []interface{}{"adapter_1", 0}, graph["adapter_2"].Inputs["model"])
		require.Equal(t, []interface{}{"adapter_2", 0}, graph["3"].Inputs["model"])
		require.Equal(t, []interface{}{"adapter_2", 1}, graph["2"].Inputs["clip"])
	})

	t.Run("Template forbidding adapters fails", func(t *testing.T) {
		sd15, err := svc.Build("sd15_txt2img", map[string]interface{}{
			"model": "m.safetensors", "prompt": "p", "seed": 1,
		})
		require.NoError(t, err)

		_, err = svc.InjectAdapters("sd15_txt2img", sd15, []models.AdapterSpec{
			{Name: "x.safetensors", StrengthModel: 0.6, StrengthClip: 0.6},
		})
		require.Error(t, err)
		require.True(t, models.IsKind(err, models.ErrUnsupportedAdapter))
	})
}
