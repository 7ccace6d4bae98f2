package main

import (
	"fmt"
	"io"
	"strings"

	"oa-worksheets/internal/model"
	"oa-worksheets/internal/versiontree"
)

// reasoningPrinter prints only what is new in each reasoning snapshot. When a
// snapshot does not extend the previous one the full text is printed again.
type reasoningPrinter struct {
	w       io.Writer
	printed string
	ticking bool
}

func newReasoningPrinter(w io.Writer) *reasoningPrinter {
	return &reasoningPrinter{w: w}
}

func (p *reasoningPrinter) Update(reasoning string) {
	if reasoning == p.printed {
		return
	}
	p.endTicks()
	if strings.HasPrefix(reasoning, p.printed) {
		fmt.Fprint(p.w, reasoning[len(p.printed):])
	} else {
		fmt.Fprintf(p.w, "\n---\n%s", reasoning)
	}
	p.printed = reasoning
}

// Tick shows that the server is still working.
func (p *reasoningPrinter) Tick() {
	fmt.Fprint(p.w, ".")
	p.ticking = true
}

func (p *reasoningPrinter) Finish() {
	if p.printed != "" || p.ticking {
		fmt.Fprintln(p.w)
	}
	p.ticking = false
}

func (p *reasoningPrinter) endTicks() {
	if p.ticking {
		fmt.Fprintln(p.w)
		p.ticking = false
	}
}

func printVersion(w io.Writer, v *model.SchemaVersion) {
	if v == nil {
		return
	}
	fmt.Fprintf(w, "\nWorksheet %d (%s)\n", v.ID, v.Privacy)
	fmt.Fprintf(w, "Prompt: %s\n", v.Prompt)
	if v.Parent != nil {
		fmt.Fprintf(w, "Parent: %d\n", *v.Parent)
	}
	if v.HasReasoning() {
		fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(v.Reasoning))
	}
	if v.HasSchema() {
		fmt.Fprint(w, "\n")
		printSchema(w, v.Schema)
	}
}

func printSchema(w io.Writer, doc *model.SchemaDocument) {
	fmt.Fprintf(w, "%d content type(s)\n", len(doc.ContentTypes))
	for _, ct := range doc.ContentTypes {
		fmt.Fprintf(w, "  %s (%s)\n", ct.Name, ct.ModelName)
		for _, f := range ct.Fields {
			line := fmt.Sprintf("    - %s", f.Label)
			if f.MachineName != "" {
				line += fmt.Sprintf(" [%s]", f.MachineName)
			}
			if f.FieldType != "" {
				line += " " + f.FieldType
			}
			if f.Cardinality != nil {
				line += " x" + f.Cardinality.String()
			}
			if f.Required != nil && *f.Required {
				line += " required"
			}
			if f.Relationship != "" {
				line += " -> " + f.Relationship
			}
			fmt.Fprintln(w, line)
		}
	}
}

func printTree(w io.Writer, entries []versiontree.Entry) {
	if len(entries) == 0 {
		return
	}
	fmt.Fprintln(w, "\nVersions:")
	for _, e := range entries {
		marker := " "
		if e.Active {
			marker = "*"
		}
		name := e.Name
		if name == "" {
			name = "(untitled)"
		}
		fmt.Fprintf(w, "%s %s%d %s\n", marker, strings.Repeat("  ", e.Depth), e.ID, name)
	}
}
