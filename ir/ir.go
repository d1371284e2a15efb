// Package ir is the format-neutral intermediate representation shared by all
// extractors and consumed by the Markdown serializer.
//
// A Document is an arena of Block nodes addressed by NodeID. Child
// relationships (list items, nested blocks) are index references into the
// arena, never owning pointers, so the tree is acyclic by construction and
// trivial to traverse.
//
// A Document is built once by exactly one extractor, read once by the
// serializer, then discarded. Nothing in this package is safe for concurrent
// mutation; concurrent conversions each own their own Document.
package ir

// Kind identifies a source document format.
type Kind string

const (
	KindPDF  Kind = "pdf"
	KindDocx Kind = "docx"
	KindPPTX Kind = "pptx"
)

// UnitLabel returns the frontmatter key for the format's page/slide count.
func (k Kind) UnitLabel() string {
	if k == KindPPTX {
		return "slides"
	}
	return "pages"
}

// BreakLabel returns the label used on PageOrSlideBreak blocks.
func (k Kind) BreakLabel() string {
	if k == KindPPTX {
		return "Slide"
	}
	return "Page"
}

// NodeID addresses a Block inside a Document arena.
type NodeID int

// BlockType discriminates the Block variants.
type BlockType uint8

const (
	BlockHeading BlockType = iota
	BlockParagraph
	BlockList
	BlockListItem
	BlockTable
	BlockImage
	BlockBreak
	BlockQuote
	BlockComment
	BlockUnrepresentable
)

// Alignment is a table column alignment.
type Alignment uint8

const (
	AlignNone Alignment = iota
	AlignLeft
	AlignCenter
	AlignRight
)

// Cell is one table cell.
type Cell struct {
	Runs []Run
}

// Block is one structural node. The Type field selects which of the other
// fields are meaningful; unused fields stay zero.
type Block struct {
	Type BlockType

	// Heading, Paragraph, BlockQuote, ListItem.
	Level int   // Heading only, 1..6
	Runs  []Run // inline content

	// List.
	Ordered bool
	Items   []NodeID // ListItem nodes

	// ListItem.
	Nested []NodeID // blocks nested under the item (sub-lists etc.)

	// Table.
	Rows  [][]Cell
	Align []Alignment

	// Image.
	Placeholder int // unique per document, first-seen order, starts at 1
	Description string
	Data        []byte // raw image bytes, nil when only a sidecar reference exists
	Ext         string // file extension without dot, e.g. "png"

	// Break.
	Index int    // 1-based page/slide index
	Label string // "Page" or "Slide"

	// Comment carries the comment text verbatim; Unrepresentable carries the
	// reason content was dropped.
	Text string
}

// Document is the IR root: an arena of blocks plus the ordered top-level
// sequence and the footnote mapping.
type Document struct {
	Kind      Kind
	Nodes     []Block
	Top       []NodeID      // top-level blocks in reading order
	Footnotes map[int][]Run // footnote id -> inline content
}

// NewDocument returns an empty Document for the given source kind.
func NewDocument(kind Kind) *Document {
	return &Document{
		Kind:      kind,
		Footnotes: make(map[int][]Run),
	}
}

// Add places a block in the arena and returns its id.
func (d *Document) Add(b Block) NodeID {
	d.Nodes = append(d.Nodes, b)
	return NodeID(len(d.Nodes) - 1)
}

// AddTop places a block in the arena and appends it to the top-level sequence.
func (d *Document) AddTop(b Block) NodeID {
	id := d.Add(b)
	d.Top = append(d.Top, id)
	return id
}

// Block returns the node for id. The id must come from Add on the same
// document; anything else is a programming error.
func (d *Document) Block(id NodeID) *Block {
	return &d.Nodes[id]
}

// Empty reports whether the document carries no top-level content.
func (d *Document) Empty() bool {
	return len(d.Top) == 0
}
