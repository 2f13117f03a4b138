package internal

import "encoding/json"

// Format is a supported output format.
type Format string

const (
	FormatPDF Format = "pdf"
	FormatPNG Format = "png"
	FormatSVG Format = "svg"
)

// SupportedFormats lists every accepted format in a stable order.
var SupportedFormats = []Format{FormatPDF, FormatPNG, FormatSVG}

// ContentType returns the MIME type sent for an artifact of this format.
func (f Format) ContentType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatSVG:
		return "image/svg+xml"
	default:
		return "application/pdf"
	}
}

// Filename is the suggested download name for an artifact of this format.
func (f Format) Filename() string {
	return "output." + string(f)
}

const (
	DefaultFormat     = FormatPDF
	DefaultPPI        = 144.0
	DefaultEntrypoint = "main.typ"
)

// CompileOptions are the validated per-request engine options.
type CompileOptions struct {
	Format Format
	// PPI is only forwarded to the engine for PNG output.
	PPI float64
	// SysInputs is nil when the caller supplied none.
	SysInputs map[string]string
}

// Artifact is one rendered output.
type Artifact struct {
	Format Format
	Data   []byte
	// Pages is how many pages the engine produced before collapsing to the first.
	Pages int
}

// RawRenderRequest is the JSON body accepted by /render/raw.
type RawRenderRequest struct {
	Source    *string         `json:"source"`
	Format    json.RawMessage `json:"format,omitempty"`
	PPI       json.RawMessage `json:"ppi,omitempty"`
	SysInputs json.RawMessage `json:"sys_inputs,omitempty"`
}

// IndexResponse describes the running service.
type IndexResponse struct {
	Service  string `json:"service"`
	Status   string `json:"status"`
	Version  string `json:"version"`
	Compiler string `json:"compiler"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string `json:"status"`
	Compiler string `json:"compiler,omitempty"`
	Error    string `json:"error,omitempty"`
}

// FontsResponse lists font families visible to the engine.
type FontsResponse struct {
	Fonts []string `json:"fonts"`
	Count int      `json:"count"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error     string   `json:"error"`
	Field     string   `json:"field,omitempty"`
	Supported []Format `json:"supported,omitempty"`
	Hint      string   `json:"hint,omitempty"`
	Details   string   `json:"details,omitempty"`
	RequestID string   `json:"requestId,omitempty"`
}
