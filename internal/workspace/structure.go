package workspace

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"
)

// StructuredExtension is the one source extension with structural extraction
const StructuredExtension = ".go"

// FunctionInfo describes a declared function or method
type FunctionInfo struct {
	Name      string   `json:"name" yaml:"name"`
	Line      int      `json:"line" yaml:"line"`
	Args      []string `json:"args" yaml:"args"`
	Docstring *string  `json:"docstring" yaml:"docstring"`
}

// TypeInfo describes a declared type and the methods declared on it in the same file
type TypeInfo struct {
	Name      string   `json:"name" yaml:"name"`
	Line      int      `json:"line" yaml:"line"`
	Methods   []string `json:"methods" yaml:"methods"`
	Docstring *string  `json:"docstring" yaml:"docstring"`
}

// Structure is the structural record of one source file
type Structure struct {
	Functions []FunctionInfo `json:"functions" yaml:"functions"`
	Types     []TypeInfo     `json:"types" yaml:"types"`
	Imports   []string       `json:"imports" yaml:"imports"`
	Variables []string       `json:"variables" yaml:"variables"`
}

// EmptyStructure returns a structure record with no symbols
func EmptyStructure() Structure {
	return Structure{
		Functions: []FunctionInfo{},
		Types:     []TypeInfo{},
		Imports:   []string{},
		Variables: []string{},
	}
}

// IsEmpty reports whether no symbol was extracted
func (s Structure) IsEmpty() bool {
	return len(s.Functions) == 0 && len(s.Types) == 0 && len(s.Imports) == 0 && len(s.Variables) == 0
}

// ExtractStructure returns the structure of content. Only Go sources are
// parsed; every other extension, and any source that fails to parse,
// yields an empty record.
func ExtractStructure(filename, extension, content string) (Structure, error) {
	if extension != StructuredExtension {
		return EmptyStructure(), nil
	}
	return extractGo(filename, content)
}

func extractGo(filename, content string) (Structure, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, content, parser.ParseComments)
	if err != nil {
		return EmptyStructure(), err
	}

	structure := EmptyStructure()
	typeIndex := make(map[string]int)

	for _, decl := range file.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok {
			continue
		}
		for _, spec := range gen.Specs {
			switch s := spec.(type) {
			case *ast.ImportSpec:
				path, err := strconv.Unquote(s.Path.Value)
				if err != nil {
					path = s.Path.Value
				}
				structure.Imports = append(structure.Imports, path)
			case *ast.TypeSpec:
				doc := s.Doc
				if doc == nil && len(gen.Specs) == 1 {
					doc = gen.Doc
				}
				typeIndex[s.Name.Name] = len(structure.Types)
				structure.Types = append(structure.Types, TypeInfo{
					Name:      s.Name.Name,
					Line:      fset.Position(s.Pos()).Line,
					Methods:   []string{},
					Docstring: docText(doc),
				})
			case *ast.ValueSpec:
				for _, name := range s.Names {
					if name.Name != "_" {
						structure.Variables = append(structure.Variables, name.Name)
					}
				}
			}
		}
	}

	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok {
			continue
		}
		structure.Functions = append(structure.Functions, FunctionInfo{
			Name:      fn.Name.Name,
			Line:      fset.Position(fn.Pos()).Line,
			Args:      paramNames(fn.Type.Params),
			Docstring: docText(fn.Doc),
		})
		if recv := receiverType(fn); recv != "" {
			if i, ok := typeIndex[recv]; ok {
				structure.Types[i].Methods = append(structure.Types[i].Methods, fn.Name.Name)
			}
		}
	}

	return structure, nil
}

func paramNames(params *ast.FieldList) []string {
	names := []string{}
	if params == nil {
		return names
	}
	for _, field := range params.List {
		if len(field.Names) == 0 {
			names = append(names, "_")
			continue
		}
		for _, name := range field.Names {
			names = append(names, name.Name)
		}
	}
	return names
}

// receiverType returns the base type name of a method receiver
func receiverType(fn *ast.FuncDecl) string {
	if fn.Recv == nil || len(fn.Recv.List) == 0 {
		return ""
	}
	expr := fn.Recv.List[0].Type
	for {
		switch e := expr.(type) {
		case *ast.StarExpr:
			expr = e.X
		case *ast.IndexExpr:
			expr = e.X
		case *ast.IndexListExpr:
			expr = e.X
		case *ast.ParenExpr:
			expr = e.X
		case *ast.Ident:
			return e.Name
		default:
			return ""
		}
	}
}

func docText(group *ast.CommentGroup) *string {
	if group == nil {
		return nil
	}
	text := strings.TrimSpace(group.Text())
	if text == "" {
		return nil
	}
	return &text
}
