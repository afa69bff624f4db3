// Package template renders Go text templates over step inputs and decodes the result.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/dukex/stepflow/pkg/models"
)

// RenderWithContext renders templateStr with the step input under .input and
// the runtime context under .context. Besides the pure helpers, templates may
// call now and rand. The process environment is never exposed.
func RenderWithContext(templateStr string, input map[string]any, rctx *models.RuntimeContext) (any, error) {
	return render(templateStr, contextData(input, rctx), pureFuncs, clockFuncs)
}

// RenderPure is RenderWithContext without now and rand: the same template,
// input and context always render the same value.
func RenderPure(templateStr string, input map[string]any, rctx *models.RuntimeContext) (any, error) {
	return render(templateStr, contextData(input, rctx), pureFuncs)
}

func Render(templateStr string, data any) (any, error) {
	return render(templateStr, data, pureFuncs, clockFuncs)
}

func contextData(input map[string]any, rctx *models.RuntimeContext) map[string]any {
	data := map[string]any{"input": input}

	if rctx != nil {
		data["context"] = map[string]any{
			"resource_id": rctx.ResourceID,
			"inputs":      rctx.Inputs,
		}
	}

	return data
}

var pureFuncs = template.FuncMap{
	"json": func(v any) (string, error) {
		data, err := json.Marshal(v)

		return string(data), err
	},
	"default": func(fallback, v any) any {
		if v == nil || v == "" {
			return fallback
		}

		return v
	},
}

var clockFuncs = template.FuncMap{
	"now": func() string {
		return time.Now().UTC().Format(time.RFC3339)
	},
	"rand": func(max int) int {
		if max <= 0 {
			return 0
		}
		num := make([]byte, 1)
		_, err := rand.Read(num)
		if err != nil {
			return 0
		}

		return int(num[0]) % max
	},
}

func render(templateStr string, data any, funcs ...template.FuncMap) (any, error) {
	tmpl := template.New("transform")
	for _, f := range funcs {
		tmpl = tmpl.Funcs(f)
	}

	tmpl, err := tmpl.Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := buf.String()

	// Try to parse as JSON if it looks like JSON
	result = strings.TrimSpace(result)
	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err == nil {
			return jsonResult, nil
		}

		return jsonResult, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}
