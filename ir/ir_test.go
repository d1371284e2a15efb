package ir

import (
	"testing"
)

func TestMergeRuns_AdjacentText(t *testing.T) {
	runs := MergeRuns([]Run{TextRun("Hello "), TextRun("world")})
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].Text != "Hello world" {
		t.Fatalf("merged text = %q", runs[0].Text)
	}
}

func TestMergeRuns_AdjacentBold(t *testing.T) {
	runs := MergeRuns([]Run{
		Wrap(RunBold, TextRun("Hello ")),
		Wrap(RunBold, TextRun("world")),
	})
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].Type != RunBold {
		t.Fatalf("merged type = %d", runs[0].Type)
	}
	if got := PlainText(runs); got != "Hello world" {
		t.Fatalf("flattened = %q", got)
	}
	if len(runs[0].Kids) != 1 {
		t.Fatalf("inner kids should merge too, got %d", len(runs[0].Kids))
	}
}

func TestMergeRuns_DifferentLinksStaySeparate(t *testing.T) {
	runs := MergeRuns([]Run{
		{Type: RunLink, Href: "https://a.example", Kids: []Run{TextRun("a")}},
		{Type: RunLink, Href: "https://b.example", Kids: []Run{TextRun("b")}},
	})
	if len(runs) != 2 {
		t.Fatalf("links with different targets must not merge, got %d runs", len(runs))
	}
}

func TestMergeRuns_MixedStylesStaySeparate(t *testing.T) {
	runs := MergeRuns([]Run{
		Wrap(RunBold, TextRun("a")),
		Wrap(RunItalic, TextRun("b")),
		TextRun("c"),
	})
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
}

func TestMergeRuns_PreservesFlattenedText(t *testing.T) {
	// WHAT: merging must never change the visible text.
	// WHY: word counts and rendering both depend on the flattened text being
	// invariant under run splitting.
	in := []Run{
		TextRun("one "), Wrap(RunBold, TextRun("two")), Wrap(RunBold, TextRun(" three")),
		TextRun(" four"), TextRun(" five"),
	}
	before := PlainText(in)
	after := PlainText(MergeRuns(in))
	if before != after {
		t.Fatalf("flattened text changed: %q -> %q", before, after)
	}
}

func TestNormalizeText_NFC(t *testing.T) {
	// "é" as combining sequence vs precomposed.
	decomposed := "Café"
	precomposed := "Café"
	if NormalizeText(decomposed) != precomposed {
		t.Fatalf("NFC: got %q, want %q", NormalizeText(decomposed), precomposed)
	}
}

func TestCountWords(t *testing.T) {
	runs := []Run{
		TextRun("Hello "),
		Wrap(RunBold, TextRun("brave new")),
		TextRun(" world"),
	}
	if got := CountWords(runs); got != 4 {
		t.Fatalf("CountWords = %d, want 4", got)
	}
}

func TestWordCount_SplitRunsCountOnce(t *testing.T) {
	// A word split across adjacent styled runs is still one word.
	d := NewDocument(KindDocx)
	d.AddTop(Block{Type: BlockParagraph, Runs: []Run{
		TextRun("work"),
		Wrap(RunBold, TextRun("flow")),
	}})
	if got := WordCount(d); got != 1 {
		t.Fatalf("WordCount = %d, want 1", got)
	}
}

func TestWordCount_CoversTablesListsFootnotes(t *testing.T) {
	d := NewDocument(KindDocx)
	d.AddTop(Block{Type: BlockParagraph, Runs: []Run{TextRun("alpha beta")}})

	item := d.Add(Block{Type: BlockListItem, Runs: []Run{TextRun("gamma")}})
	list := d.Add(Block{Type: BlockList, Items: []NodeID{item}})
	d.Top = append(d.Top, list)

	d.AddTop(Block{Type: BlockTable, Rows: [][]Cell{
		{{Runs: []Run{TextRun("delta")}}, {Runs: []Run{TextRun("epsilon")}}},
	}})
	d.Footnotes[1] = []Run{TextRun("zeta eta")}

	if got := WordCount(d); got != 7 {
		t.Fatalf("WordCount = %d, want 7", got)
	}
}

func TestDocument_ArenaAddressing(t *testing.T) {
	d := NewDocument(KindPDF)
	id := d.AddTop(Block{Type: BlockHeading, Level: 1, Runs: []Run{TextRun("Title")}})
	if d.Block(id).Level != 1 {
		t.Fatalf("block lookup failed")
	}
	if d.Empty() {
		t.Fatal("document with one top block must not be empty")
	}

	nested := d.Add(Block{Type: BlockList})
	d.Block(id).Nested = append(d.Block(id).Nested, nested)
	if len(d.Block(id).Nested) != 1 {
		t.Fatal("nested reference lost after second Add")
	}
}

func TestKindLabels(t *testing.T) {
	if KindPDF.UnitLabel() != "pages" || KindDocx.UnitLabel() != "pages" || KindPPTX.UnitLabel() != "slides" {
		t.Fatal("unit labels wrong")
	}
	if KindPDF.BreakLabel() != "Page" || KindPPTX.BreakLabel() != "Slide" {
		t.Fatal("break labels wrong")
	}
}
