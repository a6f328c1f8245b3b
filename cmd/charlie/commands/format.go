package commands

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// ═══════════════════════════════════════════════════════════
// 출력 포맷 유틸
// 모든 커맨드는 out 으로만 출력 (테스트에서 교체)
// ═══════════════════════════════════════════════════════════

var out io.Writer = os.Stdout

const keyWidth = 10

func rule()      { fmt.Fprintln(out, strings.Repeat("─", 59)) }
func heavyRule() { fmt.Fprintln(out, strings.Repeat("═", 59)) }

// section prints an emoji-prefixed heading followed by a rule
func section(title string) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, title)
	rule()
}

func success(msg string) { fmt.Fprintf(out, "✅ %s\n", msg) }
func failure(msg string) { fmt.Fprintf(out, "❌ %s\n", msg) }

func warning(msg string) {
	fmt.Fprintf(out, "\n⚠️  %s\n\n", msg)
}

func keyValue(key, value string) {
	fmt.Fprintf(out, "   %-*s : %s\n", keyWidth, key, value)
}

func bullets(items ...string) {
	for _, item := range items {
		fmt.Fprintf(out, "   • %s\n", item)
	}
}

// column is a table header with its fixed width
type column struct {
	title string
	width int
}

// table prints fixed-width rows; values longer than the column are cut with "..."
type table struct {
	cols []column
}

func newTable(cols ...column) *table {
	t := &table{cols: cols}
	titles := make([]string, len(cols))
	total := 0
	for i, c := range cols {
		titles[i] = c.title
		total += c.width
	}
	t.row(titles...)
	fmt.Fprintln(out, strings.Repeat("─", total+2*(len(cols)-1)))
	return t
}

func (t *table) row(values ...string) {
	cells := make([]string, len(values))
	for i, v := range values {
		w := t.cols[i].width
		cells[i] = fmt.Sprintf("%-*s", w, truncate(v, w))
	}
	fmt.Fprintln(out, strings.TrimRight(strings.Join(cells, "  "), " "))
}

func truncate(s string, n int) string {
	if len(s) <= n || n < 4 {
		return s
	}
	return s[:n-3] + "..."
}

func itoa(n int) string { return fmt.Sprintf("%d", n) }
