package tools

import (
	"context"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"strings"

	"github.com/toolgate/toolgate/internal/dispatch"
	"github.com/toolgate/toolgate/internal/gate"
	"github.com/toolgate/toolgate/internal/log"
)

// maxCodeBytes bounds snippets accepted by the code tools.
const maxCodeBytes = 1 << 20

// longLineThreshold flags lines reported as too long by code_analyze.
const longLineThreshold = 120

// CodeToolset implements source code analysis and formatting. Go gets
// real parsing through go/ast; other languages get line-level stats.
type CodeToolset struct {
	logger log.Logger
}

// NewCodeToolset creates the code toolset.
func NewCodeToolset(logger log.Logger) *CodeToolset {
	return &CodeToolset{logger: logger}
}

type codeAnalyzeInput struct {
	Code     string `json:"code"`
	Language string `json:"language,omitempty"`
}

type codeFormatInput struct {
	Code     string `json:"code"`
	Language string `json:"language,omitempty"`
}

// Register adds the code tools.
func (t *CodeToolset) Register(reg *dispatch.Registry) error {
	if err := add(reg, "code_analyze",
		"Analyze a source snippet: structure for Go, line stats otherwise.",
		gate.Policy{}, t.codeAnalyze); err != nil {
		return err
	}
	return add(reg, "code_format",
		"Format a source snippet: gofmt for Go, whitespace cleanup otherwise.",
		gate.Policy{}, t.codeFormat)
}

func (t *CodeToolset) codeAnalyze(_ context.Context, in codeAnalyzeInput) (any, error) {
	if in.Code == "" {
		return nil, dispatch.Errorf(dispatch.KindDomainError, "code is empty")
	}
	if len(in.Code) > maxCodeBytes {
		return nil, dispatch.Errorf(gate.KindSizeExceeded, "snippet is %d bytes, limit is %d", len(in.Code), maxCodeBytes)
	}

	lang := strings.ToLower(in.Language)
	stats := lineStats(in.Code, lang)

	if lang == "go" || lang == "golang" {
		goStats, err := analyzeGo(in.Code)
		if err != nil {
			return nil, dispatch.Errorf(dispatch.KindDomainError, "go source does not parse: %v", err)
		}
		for k, v := range goStats {
			stats[k] = v
		}
		stats["language"] = "go"
	}

	return stats, nil
}

func (t *CodeToolset) codeFormat(_ context.Context, in codeFormatInput) (any, error) {
	if in.Code == "" {
		return nil, dispatch.Errorf(dispatch.KindDomainError, "code is empty")
	}
	if len(in.Code) > maxCodeBytes {
		return nil, dispatch.Errorf(gate.KindSizeExceeded, "snippet is %d bytes, limit is %d", len(in.Code), maxCodeBytes)
	}

	lang := strings.ToLower(in.Language)
	var formatted string

	if lang == "go" || lang == "golang" {
		out, err := format.Source([]byte(in.Code))
		if err != nil {
			return nil, dispatch.Errorf(dispatch.KindDomainError, "go source does not parse: %v", err)
		}
		formatted = string(out)
	} else {
		formatted = trimTrailingSpace(in.Code)
	}

	return map[string]any{
		"formatted": formatted,
		"changed":   formatted != in.Code,
	}, nil
}

// lineStats computes language-independent metrics.
func lineStats(code, lang string) map[string]any {
	lines := strings.Split(code, "\n")

	commentPrefixes := []string{"//", "#"}
	switch lang {
	case "python", "ruby", "shell", "sh", "bash", "yaml":
		commentPrefixes = []string{"#"}
	case "go", "golang", "java", "c", "cpp", "javascript", "typescript", "rust":
		commentPrefixes = []string{"//"}
	}

	var blank, comments, long, todos int
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			blank++
			continue
		}
		for _, p := range commentPrefixes {
			if strings.HasPrefix(trimmed, p) {
				comments++
				break
			}
		}
		if len(line) > longLineThreshold {
			long++
		}
		if strings.Contains(trimmed, "TODO") || strings.Contains(trimmed, "FIXME") {
			todos++
		}
	}

	return map[string]any{
		"language":      lang,
		"lines":         len(lines),
		"blank_lines":   blank,
		"comment_lines": comments,
		"long_lines":    long,
		"todo_count":    todos,
		"bytes":         len(code),
	}
}

// analyzeGo parses the snippet and reports declaration-level structure.
func analyzeGo(code string) (map[string]any, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "snippet.go", code, parser.ParseComments)
	if err != nil {
		return nil, err
	}

	var funcs, methods, types []string
	imports := make([]string, 0, len(file.Imports))
	for _, imp := range file.Imports {
		imports = append(imports, strings.Trim(imp.Path.Value, `"`))
	}

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Recv != nil {
				methods = append(methods, d.Name.Name)
			} else {
				funcs = append(funcs, d.Name.Name)
			}
		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				if ts, ok := spec.(*ast.TypeSpec); ok {
					types = append(types, ts.Name.Name)
				}
			}
		}
	}

	return map[string]any{
		"package":   file.Name.Name,
		"imports":   imports,
		"functions": funcs,
		"methods":   methods,
		"types":     types,
	}, nil
}

func trimTrailingSpace(code string) string {
	lines := strings.Split(code, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	out := strings.Join(lines, "\n")
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out
}
