package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/reportcollab/collabd/internal/models"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DiffSnapshots compares two snapshots. Scalar text fields produce word
// spans, dates produce old/new pairs and blocks are compared by position.
func DiffSnapshots(from, to models.ReportSnapshot) models.ReportDiff {
	var out models.ReportDiff

	if from.Title != to.Title {
		out.Title = DiffWords(from.Title, to.Title)
	}
	if from.DateFrom != to.DateFrom {
		out.DateFrom = &models.ValueChange{Old: from.DateFrom, New: to.DateFrom}
	}
	if from.DateTo != to.DateTo {
		out.DateTo = &models.ValueChange{Old: from.DateTo, New: to.DateTo}
	}
	out.ContentBlocks = diffBlocks(from.ContentBlocks, to.ContentBlocks)

	return out
}

func diffBlocks(from, to []models.Block) []models.BlockChange {
	changes := []models.BlockChange{}

	n := len(from)
	if len(to) > n {
		n = len(to)
	}
	for i := 0; i < n; i++ {
		var a, b models.Block
		if i < len(from) {
			a = from[i]
		}
		if i < len(to) {
			b = to[i]
		}

		switch {
		case a == nil && b != nil:
			changes = append(changes, models.BlockChange{Type: models.BlockAdded, Index: i, Component: b.Component(), Block: b})
		case a != nil && b == nil:
			changes = append(changes, models.BlockChange{Type: models.BlockRemoved, Index: i, Component: a.Component(), Block: a})
		case a != nil && b != nil:
			if fields := diffBlockFields(a, b); len(fields) > 0 {
				changes = append(changes, models.BlockChange{Type: models.BlockModified, Index: i, Component: b.Component(), Changes: fields})
			}
		}
	}
	return changes
}

func diffBlockFields(a, b models.Block) map[string]models.FieldChange {
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}

	changes := make(map[string]models.FieldChange)
	for k := range keys {
		if k == "__component" || k == "id" {
			continue
		}
		oldVal, newVal := a[k], b[k]

		oldStr, oldIsStr := oldVal.(string)
		newStr, newIsStr := newVal.(string)
		if oldIsStr && newIsStr {
			if oldStr != newStr {
				changes[k] = models.FieldChange{Spans: DiffWords(oldStr, newStr)}
			}
			continue
		}
		if !sameJSON(oldVal, newVal) {
			changes[k] = models.FieldChange{Old: oldVal, New: newVal}
		}
	}
	return changes
}

// ChangeSummary describes how cur differs from prev. A nil prev is the first
// version of a document.
func ChangeSummary(prev *models.ReportSnapshot, cur models.ReportSnapshot) string {
	if prev == nil {
		return "Initial version"
	}

	var parts []string
	if prev.Title != cur.Title {
		parts = append(parts, "Title changed")
	}
	if prev.DateFrom != cur.DateFrom || prev.DateTo != cur.DateTo {
		parts = append(parts, "Dates changed")
	}

	if !sameJSON(prev.ContentBlocks, cur.ContentBlocks) {
		delta := len(cur.ContentBlocks) - len(prev.ContentBlocks)
		if delta > 0 {
			parts = append(parts, fmt.Sprintf("Blocks added: %d", delta))
		} else if delta < 0 {
			parts = append(parts, fmt.Sprintf("Blocks removed: %d", -delta))
		}

		shared := len(prev.ContentBlocks)
		if len(cur.ContentBlocks) < shared {
			shared = len(cur.ContentBlocks)
		}
		modified := 0
		for i := 0; i < shared; i++ {
			if !sameJSON(prev.ContentBlocks[i], cur.ContentBlocks[i]) {
				modified++
			}
		}
		if modified > 0 {
			parts = append(parts, fmt.Sprintf("Blocks modified: %d", modified))
		}
	}

	if len(parts) == 0 {
		return "No changes"
	}
	return strings.Join(parts, "; ")
}

// DiffWords returns word-level spans turning from into to. Whitespace runs
// are tokens of their own so the spans concatenate back to the inputs.
func DiffWords(from, to string) []models.TextSpan {
	enc := newTokenEncoder()
	a := enc.encode(tokenize(from))
	b := enc.encode(tokenize(to))

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMainRunes(a, b, false)

	spans := make([]models.TextSpan, 0, len(diffs))
	for _, d := range diffs {
		span := models.TextSpan{Value: enc.decode(d.Text)}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			span.Added = true
		case diffmatchpatch.DiffDelete:
			span.Removed = true
		}
		spans = append(spans, span)
	}
	return spans
}

func tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder
	inSpace := false
	for i, r := range s {
		space := unicode.IsSpace(r)
		if i > 0 && space != inSpace {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
		inSpace = space
		cur.WriteRune(r)
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

// tokenEncoder maps each distinct word onto one private-use rune so the
// character differ works on whole words.
type tokenEncoder struct {
	ids    map[string]rune
	tokens []string
}

func newTokenEncoder() *tokenEncoder {
	return &tokenEncoder{ids: make(map[string]rune)}
}

func (e *tokenEncoder) encode(tokens []string) []rune {
	out := make([]rune, 0, len(tokens))
	for _, t := range tokens {
		id, ok := e.ids[t]
		if !ok {
			id = tokenRune(len(e.tokens))
			e.ids[t] = id
			e.tokens = append(e.tokens, t)
		}
		out = append(out, id)
	}
	return out
}

func (e *tokenEncoder) decode(s string) string {
	var b strings.Builder
	for _, r := range s {
		if i := tokenIndex(r); i >= 0 && i < len(e.tokens) {
			b.WriteString(e.tokens[i])
		}
	}
	return b.String()
}

// Private use areas: U+E000..U+F8FF, then planes 15 and 16.
const (
	bmpPrivateStart  = 0xE000
	bmpPrivateSize   = 0xF8FF - 0xE000 + 1
	suppPrivateStart = 0xF0000
)

func tokenRune(i int) rune {
	if i < bmpPrivateSize {
		return rune(bmpPrivateStart + i)
	}
	return rune(suppPrivateStart + i - bmpPrivateSize)
}

func tokenIndex(r rune) int {
	switch {
	case r >= bmpPrivateStart && r < bmpPrivateStart+bmpPrivateSize:
		return int(r - bmpPrivateStart)
	case r >= suppPrivateStart:
		return int(r-suppPrivateStart) + bmpPrivateSize
	}
	return -1
}

func sameJSON(a, b any) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ra) == string(rb)
}
