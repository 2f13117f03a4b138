package internal

import (
	"bytes"
	"encoding/json"
	"math"
	"path/filepath"
	"strconv"
	"strings"
)

// ParseFormat normalizes a requested output format. Empty means the default.
func ParseFormat(raw string) (Format, error) {
	if raw == "" {
		return DefaultFormat, nil
	}
	f := Format(strings.ToLower(raw))
	for _, ok := range SupportedFormats {
		if f == ok {
			return f, nil
		}
	}
	return "", &InputError{
		Field:     "format",
		Value:     string(f),
		Message:   "Unsupported format: " + string(f),
		Supported: SupportedFormats,
	}
}

// ParsePPI parses the PNG resolution. Empty means the default; anything that
// is not a finite positive number is rejected.
func ParsePPI(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultPPI, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, invalidInput("ppi", raw, "Invalid ppi value: %s", raw)
	}
	return v, nil
}

// ParseSysInputs parses a JSON object of engine inputs. Empty input and an
// empty object both yield nil.
func ParseSysInputs(raw string) (map[string]string, error) {
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if !json.Valid(trimmed) {
		return nil, invalidInput("sys_inputs", raw, "Invalid JSON in sys_inputs")
	}
	if trimmed[0] != '{' {
		return nil, invalidInput("sys_inputs", raw, "sys_inputs must be a JSON object")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, invalidInput("sys_inputs", raw, "Invalid JSON in sys_inputs")
	}
	if len(fields) == 0 {
		return nil, nil
	}

	inputs := make(map[string]string, len(fields))
	for k, v := range fields {
		// The engine receives each pair as `k=v` and splits at the first '='.
		if k == "" || strings.Contains(k, "=") {
			return nil, invalidInput("sys_inputs", raw, "Invalid sys_inputs key: %q", k)
		}
		inputs[k] = jsonValueString(v)
	}
	return inputs, nil
}

// jsonValueString renders a JSON value as the string the engine sees:
// strings unquoted, null empty, everything else as compact JSON text.
func jsonValueString(v json.RawMessage) string {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return ""
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return string(v)
	}
	return buf.String()
}

// ValidateEntrypoint checks a caller-supplied path relative to the workspace
// root. Empty means the default entrypoint.
func ValidateEntrypoint(raw string) (string, error) {
	if raw == "" {
		return DefaultEntrypoint, nil
	}
	if !isSafeRelativePath(raw) {
		return "", invalidInput("entrypoint", raw, "Invalid entrypoint path")
	}
	return raw, nil
}

// isSafeRelativePath rejects absolute paths, parent-directory segments and
// NUL bytes, for both slash styles.
func isSafeRelativePath(p string) bool {
	if p == "" || strings.ContainsRune(p, 0) {
		return false
	}
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, `\`) || filepath.IsAbs(p) || filepath.VolumeName(p) != "" {
		return false
	}
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return false
		}
	}
	return true
}

// rawOptions holds unparsed option values from either request encoding.
type rawOptions struct {
	Format    string
	PPI       string
	SysInputs string
}

// parse validates the values in a fixed order so the first failure reported
// is deterministic: format, ppi, sys_inputs.
func (r rawOptions) parse() (CompileOptions, error) {
	format, err := ParseFormat(r.Format)
	if err != nil {
		return CompileOptions{}, err
	}
	ppi, err := ParsePPI(r.PPI)
	if err != nil {
		return CompileOptions{}, err
	}
	inputs, err := ParseSysInputs(r.SysInputs)
	if err != nil {
		return CompileOptions{}, err
	}
	return CompileOptions{Format: format, PPI: ppi, SysInputs: inputs}, nil
}

// sourceRequest is a /render/raw request in one of its two encodings.
type sourceRequest interface {
	parse() (source string, opts CompileOptions, err error)
}

// formSourceRequest is the form-encoded /render/raw request.
type formSourceRequest struct {
	Source string
	rawOptions
}

func (r formSourceRequest) parse() (string, CompileOptions, error) {
	if r.Source == "" {
		return "", CompileOptions{}, invalidInput("source", "", "No source provided")
	}
	opts, err := r.rawOptions.parse()
	return r.Source, opts, err
}

// jsonSourceRequest is the structured-body /render/raw request.
type jsonSourceRequest struct {
	Body RawRenderRequest
}

func (r jsonSourceRequest) parse() (string, CompileOptions, error) {
	if r.Body.Source == nil || *r.Body.Source == "" {
		return "", CompileOptions{}, invalidInput("source", "", "No source provided")
	}

	format, ok := jsonText(r.Body.Format, false)
	if !ok {
		raw := string(r.Body.Format)
		return "", CompileOptions{}, &InputError{Field: "format", Value: raw, Message: "Unsupported format: " + raw, Supported: SupportedFormats}
	}
	ppi, ok := jsonText(r.Body.PPI, true)
	if !ok {
		raw := string(r.Body.PPI)
		return "", CompileOptions{}, invalidInput("ppi", raw, "Invalid ppi value: %s", raw)
	}
	opts, err := rawOptions{Format: format, PPI: ppi, SysInputs: string(r.Body.SysInputs)}.parse()
	return *r.Body.Source, opts, err
}

// jsonText extracts the text of a JSON string field, or of a number when
// numeric is set. Absent and null yield "". ok is false for any other type.
func jsonText(v json.RawMessage, numeric bool) (string, bool) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return "", true
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", false
		}
		if numeric && strings.TrimSpace(s) == "" {
			return "", false
		}
		return s, true
	}
	if !numeric {
		return "", false
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err != nil {
		return "", false
	}
	return n.String(), true
}
