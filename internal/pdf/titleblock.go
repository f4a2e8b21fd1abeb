package pdf

import (
	"regexp"
	"strconv"
	"strings"
)

// SheetRef is a title-block page number like "25/207".
type SheetRef struct {
	Number int
	Total  int
}

// Matches "1/207", "25 / 207", and the full-width Japanese form "２５／２０７".
var sheetNumberPattern = regexp.MustCompile(`([0-9０-９]+)\s*[/／]\s*([0-9０-９]+)`)

var fullwidthDigits = strings.NewReplacer(
	"０", "0", "１", "1", "２", "2", "３", "3", "４", "4",
	"５", "5", "６", "6", "７", "7", "８", "8", "９", "9",
)

// ParseSheetNumber scans page text for a title-block page number. When the
// text contains several "n/m" fragments the last one wins, since the title
// block sits at the bottom of the sheet. Returns nil when nothing matches.
func ParseSheetNumber(text string) *SheetRef {
	matches := sheetNumberPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	last := matches[len(matches)-1]
	number, err := strconv.Atoi(fullwidthDigits.Replace(last[1]))
	if err != nil {
		return nil
	}
	total, err := strconv.Atoi(fullwidthDigits.Replace(last[2]))
	if err != nil {
		return nil
	}
	return &SheetRef{Number: number, Total: total}
}
