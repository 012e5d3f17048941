// Package amperr defines the validation findings surfaced to the host
// sanitization framework while document CSS is processed.
package amperr

import "golang.org/x/net/html"

// Code identifies a class of validation finding.
type Code string

const (
	IllegalAtRule     Code = "illegal_css_at_rule"
	IllegalImportRule Code = "illegal_css_import_rule"
	IllegalProperty   Code = "illegal_css_property"
	IllegalImportant  Code = "illegal_css_important"
	UnrecognizedCSS   Code = "unrecognized_css"
	ParseError        Code = "css_parse_error"
	TooMuchCSS        Code = "too_much_css"
	BadFileExtension  Code = "amp_css_bad_file_extension"
	PathNotFound      Code = "amp_css_path_not_found"
	FileReadError     Code = "stylesheet_file_read_error"
	MissingBody       Code = "missing_body_element"
)

// Error is a single validation finding. Only the fields relevant to the code
// are set.
type Error struct {
	Code          Code
	Message       string
	AtRuleName    string
	PropertyName  string
	PropertyValue string
	URL           string
	OverageBytes  int
}

// Sink receives findings tagged with the DOM node they originate from. The
// node may be nil for document-level findings.
type Sink func(e Error, node *html.Node)

// Discard drops every finding.
func Discard(Error, *html.Node) {}

// Record pairs a finding with its origin node.
type Record struct {
	Error Error
	Node  *html.Node
}

// Collect returns a sink that appends findings to dst in encounter order.
func Collect(dst *[]Record) Sink {
	return func(e Error, node *html.Node) {
		*dst = append(*dst, Record{Error: e, Node: node})
	}
}
