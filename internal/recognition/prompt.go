package recognition

import (
	"fmt"
	"sort"
	"strings"
)

// buildExtractionPrompt assembles the per-page extraction prompt. Context
// text comes from the document's reading-instructions and legend pages;
// the page mapping tells the model how PDF positions relate to title-block
// numbers.
func buildExtractionPrompt(pageIndex int, contextText string, pageMapping map[int]int) string {
	var b strings.Builder

	b.WriteString("You are analyzing an industrial electrical schematic diagram.\n\n")
	b.WriteString("CONTEXT:\n")
	if contextText != "" {
		b.WriteString(contextText)
		b.WriteString("\n")
	} else {
		b.WriteString("- Refer to the reading instructions and symbol legend pages for component identification.\n")
	}

	if len(pageMapping) > 0 {
		b.WriteString("\nPAGE MAPPING:\n")
		indexes := make([]int, 0, len(pageMapping))
		for idx := range pageMapping {
			indexes = append(indexes, idx)
		}
		sort.Ints(indexes)
		for _, idx := range indexes {
			fmt.Fprintf(&b, "- PDF page %d corresponds to schematic page %d\n", idx+1, pageMapping[idx])
		}
	}

	fmt.Fprintf(&b, "\nTASK: Extract ALL components, connections, and wire labels from PDF page %d.\n", pageIndex+1)
	b.WriteString(`
For each COMPONENT, extract:
- symbol: Component symbol type (from legend)
- name: Full component name
- mark: Component identifier (e.g., 'SOL-1', 'MC1', 'CR5')
- type: Component type category
- x, y, width, height: Bounding box coordinates in PDF points
- description: Any additional description text

For each CONNECTION (wire), extract:
- from_component_mark: Source component mark
- to_component_mark: Destination component mark
- wire_label: Wire number/label
- terminal_from, terminal_to: Terminal numbers if visible
- path: Array of [x, y] coordinates along the wire path
- is_external: true if the connection goes to a page not being processed

For each WIRE LABEL, extract:
- label: The wire number/label text
- x, y: Position coordinates

For CONTINUATIONS (arrows pointing to other pages):
- from_component_mark: Component near the continuation
- to_page_hint: Text indicating the destination page (e.g., '→5', 'P.12')
- direction: 'to' or 'from'

IMPORTANT:
- Extract EVERY visible component, connection, and wire label
- Use exact marks as shown in the schematic
- Coordinates should be in PDF points from the top-left origin
- If uncertain, include the element with your best guess
`)

	return b.String()
}

// buildMetadataPrompt asks for title-block data across a batch of pages in
// one call.
func buildMetadataPrompt(pageIndexes []int) string {
	var b strings.Builder

	pages := make([]string, len(pageIndexes))
	for i, idx := range pageIndexes {
		pages[i] = fmt.Sprintf("%d", idx+1)
	}

	fmt.Fprintf(&b, "Look at PDF pages %s of this document.\n", strings.Join(pages, ", "))
	b.WriteString(`For each page, find the title block (usually at the bottom right) and read:
- schematic_page_number and total_pages from the "X/Y" numbering (e.g., "25/207")
- drawing_no: the drawing number
- drawing_title: the drawing title
- confidence: 0.0-1.0, how certain you are of the reading

Report every requested page, using pdf_page_index as the 0-based page position. Omit fields you cannot read.
`)

	return b.String()
}
