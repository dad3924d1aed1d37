package memory

import (
	"fmt"
)

// demoIDs numbers items so the demo tree is identical in every process.
type demoIDs struct {
	n int
}

func (g *demoIDs) New() string {
	g.n++
	return fmt.Sprintf("demo-%d", g.n)
}

// Demo returns a tree seeded with a small document inbox. Item IDs are stable across
// calls unless opts replace the ID generator.
func Demo(opts ...Option) *Tree {
	t := New(append([]Option{WithIDGenerator(&demoIDs{})}, opts...)...)
	invoices, _ := t.AddFolder(RootID, "Invoices")
	y2025, _ := t.AddFolder(invoices.ID, "2025")
	notes, _ := t.AddFolder(RootID, "Delivery Notes")
	customs, _ := t.AddFolder(RootID, "Customs")

	for i := 1; i <= 12; i++ {
		t.AddFile(y2025.ID, fmt.Sprintf("INV-2025-%03d.pdf", i), []byte(fmt.Sprintf("%%PDF-1.7 invoice %d", i)))
	}
	t.AddFile(y2025.ID, "summary.xlsx", []byte("PK spreadsheet"))
	t.AddFile(notes.ID, "DN-4471.jpg", []byte("\xff\xd8\xff delivery note"))
	t.AddFile(notes.ID, "DN-4472.png", []byte("\x89PNG delivery note"))
	t.AddFile(customs.ID, "EX1-88213.tiff", []byte("II* customs declaration"))
	t.AddFile(RootID, "readme.txt", []byte("drop documents into the folders"))
	return t
}
