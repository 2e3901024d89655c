package symbols

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/GoPolymarket/logbridge/internal/model"
)

// Symbol is the original source location an obfuscated identifier maps to.
type Symbol struct {
	Class  string `json:"class"`
	Method string `json:"method,omitempty"`
	File   string `json:"file,omitempty"`
	Line   int    `json:"line"`
}

// SymbolMap maps obfuscated identifiers of one permutation to Symbols. It is
// never modified after construction.
type SymbolMap struct {
	permutation string
	source      string
	symbols     map[string]Symbol
}

func NewSymbolMap(permutation, source string, symbols map[string]Symbol) *SymbolMap {
	cp := make(map[string]Symbol, len(symbols))
	for k, v := range symbols {
		cp[k] = v
	}
	return &SymbolMap{permutation: permutation, source: source, symbols: cp}
}

func (m *SymbolMap) Permutation() string { return m.permutation }
func (m *SymbolMap) Source() string      { return m.source }
func (m *SymbolMap) Len() int            { return len(m.symbols) }

func (m *SymbolMap) Lookup(key string) (Symbol, bool) {
	s, ok := m.symbols[key]
	return s, ok
}

// Each calls fn for every entry in unspecified order.
func (m *SymbolMap) Each(fn func(key string, sym Symbol)) {
	for k, v := range m.symbols {
		fn(k, v)
	}
}

// Resolve maps a frame through this map. The class name is the key; the
// method name is only tried when the class is the JS placeholder, since
// obfuscated JS frames carry the mangled function there. Fields the symbol
// leaves empty keep the frame's values.
func (m *SymbolMap) Resolve(f model.StackFrame) (model.StackFrame, bool) {
	sym, ok := m.symbols[f.ClassName]
	if !ok && f.IsPlaceholderClass() {
		sym, ok = m.symbols[f.MethodName]
	}
	if !ok {
		return f, false
	}
	out := model.StackFrame{
		ClassName:  sym.Class,
		MethodName: sym.Method,
		FileName:   sym.File,
		LineNumber: sym.Line,
	}
	if out.ClassName == "" {
		out.ClassName = f.ClassName
	}
	if out.MethodName == "" {
		out.MethodName = f.MethodName
	}
	if out.FileName == "" {
		out.FileName = f.FileName
	}
	if out.LineNumber < 0 {
		out.LineNumber = f.LineNumber
	}
	return out, true
}

// ErrMalformed is returned for symbol map data that cannot be parsed.
var ErrMalformed = errors.New("malformed symbol map")

// Parse reads a symbol map in the compiler's symbolMaps CSV layout:
//
//	# jsName, jsniIdent, className, memberName, sourceUri, sourceLine, fragmentNumber
func Parse(r io.Reader, permutation, source string) (*SymbolMap, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	symbols := make(map[string]Symbol)
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if len(row) < 6 {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("%w: line %d has %d columns, want at least 6", ErrMalformed, line, len(row))
		}
		symbols[row[0]] = symbolFromColumns(row[2], row[3], row[4], row[5])
	}
	return &SymbolMap{permutation: permutation, source: source, symbols: symbols}, nil
}

// ParseEntry decodes the columns after jsName, as stored in one hash field.
func ParseEntry(value string) (Symbol, error) {
	row, err := csv.NewReader(strings.NewReader(value)).Read()
	if err != nil {
		return Symbol{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(row) < 5 {
		return Symbol{}, fmt.Errorf("%w: entry %q has %d columns, want at least 5", ErrMalformed, value, len(row))
	}
	return symbolFromColumns(row[1], row[2], row[3], row[4]), nil
}

// FormatEntry is the inverse of ParseEntry.
func FormatEntry(sym Symbol) string {
	var b strings.Builder
	w := csv.NewWriter(&b)
	_ = w.Write([]string{"", sym.Class, sym.Method, sym.File, strconv.Itoa(sym.Line)})
	w.Flush()
	return strings.TrimSuffix(b.String(), "\n")
}

func symbolFromColumns(className, memberName, sourceURI, sourceLine string) Symbol {
	sym := Symbol{
		Class:  strings.TrimSpace(className),
		Method: strings.TrimSpace(memberName),
		File:   sourceFileName(sourceURI),
		Line:   model.UnknownLine,
	}
	if n, err := strconv.Atoi(strings.TrimSpace(sourceLine)); err == nil && n >= 0 {
		sym.Line = n
	}
	return sym
}

// sourceFileName strips jar: and file: prefixes and directories from a
// source URI, leaving the file name a stack frame shows.
func sourceFileName(uri string) string {
	uri = strings.TrimSpace(uri)
	if i := strings.LastIndex(uri, "!"); i >= 0 {
		uri = uri[i+1:]
	}
	uri = strings.TrimPrefix(uri, "file:")
	if uri == "" || uri == "Unknown" {
		return ""
	}
	return path.Base(strings.ReplaceAll(uri, "\\", "/"))
}
