package outfile

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/doc2md/convert"
	"github.com/hazyhaar/doc2md/ir"
	"github.com/hazyhaar/doc2md/kit"
)

// RegisterMCP registers the conversion tools on an MCP server.
func (r *Runner) RegisterMCP(srv *mcp.Server) {
	r.registerConvertTool(srv, "convert_pdf_to_markdown",
		"Convert a PDF to Markdown. Preserves headings, paragraphs, lists, tables, and page breaks.",
		ir.KindPDF)
	r.registerConvertTool(srv, "convert_docx_to_markdown",
		"Convert a DOCX to Markdown. Preserves headings, formatting, tables, lists, hyperlinks, footnotes, and comments.",
		ir.KindDocx)
	r.registerConvertTool(srv, "convert_pptx_to_markdown",
		"Convert a PPTX to Markdown. Each slide becomes an H2 section with title, body, tables, and speaker notes.",
		ir.KindPPTX)
	r.registerAutoTool(srv)
	r.registerBatchTool(srv)
	r.registerFormatsTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// requestProperties is the shared parameter surface of the per-format tools:
// a file path OR a base64 payload plus file name, with output overrides.
func requestProperties() map[string]any {
	return map[string]any{
		"file_path": map[string]any{
			"type":        "string",
			"description": "Path to the source file. Use base64_content instead when the file is not directly accessible.",
		},
		"base64_content": map[string]any{
			"type":        "string",
			"description": "Base64-encoded file content, as an alternative to file_path. Requires file_name.",
		},
		"file_name": map[string]any{
			"type":        "string",
			"description": "Original file name, required with base64_content.",
		},
		"output_dir": map[string]any{
			"type":        "string",
			"description": "Directory for the .md file. Defaults to the source directory, or the working directory for base64 input.",
		},
		"output_file_name": map[string]any{
			"type":        "string",
			"description": "Output file name override (.md is appended when missing).",
		},
		"overwrite": map[string]any{
			"type":        "boolean",
			"description": "Replace an existing output file instead of adding a timestamp suffix.",
		},
	}
}

func decodeRequest(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var r Request
	if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
		return nil, err
	}
	return &kit.MCPDecodeResult{Request: &r}, nil
}

func (r *Runner) registerConvertTool(srv *mcp.Server, name, description string, kind ir.Kind) {
	tool := &mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: inputSchema(requestProperties(), nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return r.Run(ctx, kind, *req.(*Request)), nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeRequest)
}

func (r *Runner) registerAutoTool(srv *mcp.Server) {
	props := requestProperties()
	props["mime_type"] = map[string]any{
		"type":        "string",
		"description": "MIME type hint used when the file extension is missing or unknown.",
	}
	tool := &mcp.Tool{
		Name:        "convert_auto",
		Description: "Auto-detect file type (PDF, DOCX, PPTX) and convert to Markdown.",
		InputSchema: inputSchema(props, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return r.Run(ctx, "", *req.(*Request)), nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeRequest)
}

type batchReq struct {
	FilePaths []string `json:"file_paths"`
	OutputDir string   `json:"output_dir,omitempty"`
	Overwrite bool     `json:"overwrite,omitempty"`
}

func (r *Runner) registerBatchTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "batch_convert",
		Description: "Convert multiple files (PDF, DOCX, PPTX) to Markdown in batch. Continues on individual file failures.",
		InputSchema: inputSchema(map[string]any{
			"file_paths": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Paths of the files to convert.",
			},
			"output_dir": map[string]any{
				"type":        "string",
				"description": "Directory for all .md files. Defaults to each source file's directory.",
			},
			"overwrite": map[string]any{
				"type":        "boolean",
				"description": "Replace existing output files instead of adding timestamp suffixes.",
			},
		}, []string{"file_paths"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		b := req.(*batchReq)
		return r.Batch(ctx, b.FilePaths, b.OutputDir, b.Overwrite), nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var b batchReq
		if err := json.Unmarshal(req.Params.Arguments, &b); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &b}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (r *Runner) registerFormatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "list_supported_formats",
		Description: "List the document formats this server can convert to Markdown.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		return map[string]any{"formats": convert.SupportedFormats()}, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
