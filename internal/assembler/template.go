package assembler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wonny/charlie/backend/internal/contracts"
)

// bundle is everything one variation puts into its prompt
type bundle struct {
	Ticker       string
	CompanyName  string
	AsOfDate     time.Time
	Cutoff       time.Time
	Window       *contracts.PriceWindow
	News         map[contracts.Bucket][]*contracts.NormalizedNews
	Fundamentals []*contracts.Fundamental
	Options      []*contracts.OptionContract
	Macro        []*contracts.MacroEvent
	Insider      []*contracts.InsiderTxn
	Analyst      []*contracts.AnalystReco
}

var bucketTitles = map[contracts.Bucket]string{
	contracts.Bucket0to3:   "News (0-3 days)",
	contracts.Bucket4to10:  "News (4-10 days)",
	contracts.Bucket11to30: "News (11-30 days)",
}

// render produces the fixed prompt layout: header, technicals, news by bucket, then the other modalities.
// Truncation cuts from the tail, so this order decides what survives a tight budget.
func render(b *bundle) string {
	var sb strings.Builder

	name := b.Ticker
	if b.CompanyName != "" {
		name = fmt.Sprintf("%s (%s)", b.Ticker, b.CompanyName)
	}
	fmt.Fprintf(&sb, "Ticker: %s  Date: %s\n", name, b.AsOfDate.Format(contracts.DateLayout))
	fmt.Fprintf(&sb, "Information cutoff: %s\n", b.Cutoff.Format(time.RFC3339))

	section(&sb, "Technical summary")
	renderTechnicals(&sb, b.Window)

	for _, bucket := range contracts.AllBuckets() {
		section(&sb, bucketTitles[bucket])
		items := b.News[bucket]
		if len(items) == 0 {
			sb.WriteString("(none)\n")
			continue
		}
		for _, n := range items {
			fmt.Fprintf(&sb, "- [%s %s] %s", n.PublishedAtUTC.Format(contracts.DateLayout), n.Source, n.Headline)
			if n.Snippet != "" {
				fmt.Fprintf(&sb, ": %s", n.Snippet)
			}
			sb.WriteString("\n")
		}
	}

	section(&sb, "Fundamentals")
	if len(b.Fundamentals) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, f := range b.Fundamentals {
		fmt.Fprintf(&sb, "- %s %s (%s): revenue=%s net_income=%s ebitda=%s eps=%s\n",
			f.ReportDate.Format(contracts.DateLayout), f.PeriodType, f.Currency,
			num(f.Metrics.Revenue), num(f.Metrics.NetIncome), num(f.Metrics.EBITDA), num(f.Metrics.EPS))
	}

	section(&sb, "Options")
	if len(b.Options) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, o := range b.Options {
		fmt.Fprintf(&sb, "- exp %s %s strike=%s oi=%d iv=%s underlying=%s\n",
			o.Expiration.Format(contracts.DateLayout), o.OptionType,
			fnum(o.Strike), o.OpenInterest, fnum(o.ImpliedVol), fnum(o.UnderlyingPrice))
	}

	section(&sb, "Macro events")
	if len(b.Macro) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, m := range b.Macro {
		fmt.Fprintf(&sb, "- %s %s %s (importance %d): actual=%s forecast=%s previous=%s\n",
			m.EventDate.Format(contracts.DateLayout), m.Country, m.EventName, m.Importance,
			num(m.Actual), num(m.Forecast), num(m.Previous))
	}

	section(&sb, "Insider activity")
	if len(b.Insider) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, t := range b.Insider {
		fmt.Fprintf(&sb, "- %s %s %s shares=%s price=%s\n",
			t.FilingDate.Format(contracts.DateLayout), t.InsiderName, t.TransactionType, fnum(t.Shares), fnum(t.Price))
	}

	section(&sb, "Analyst ratings")
	if len(b.Analyst) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, a := range b.Analyst {
		fmt.Fprintf(&sb, "- %s %s: %s", a.RecoDate.Format(contracts.DateLayout), a.Firm, a.Rating)
		if a.Action != "" {
			fmt.Fprintf(&sb, " (%s)", a.Action)
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func renderTechnicals(sb *strings.Builder, w *contracts.PriceWindow) {
	if w == nil || len(w.Bars) == 0 {
		sb.WriteString("(no price window)\n")
		return
	}

	last, _ := w.LastClose()
	l := w.Technicals.Latest
	fmt.Fprintf(sb, "Last close: %s over %d bars\n", fnum(last), len(w.Bars))
	fmt.Fprintf(sb, "MA5=%s MA10=%s EMA12=%s EMA26=%s MACD=%s\n",
		num(l.MA5), num(l.MA10), num(l.EMA12), num(l.EMA26), num(l.MACD))
	fmt.Fprintf(sb, "RSI14=%s ATR14=%s BB_upper=%s BB_lower=%s\n",
		num(l.RSI14), num(l.ATR14), num(l.BBUpper), num(l.BBLower))

	series := w.Technicals.Series
	if len(series.Close) > 0 && len(series.Close) == len(series.Dates) {
		parts := make([]string, len(series.Close))
		for i := range series.Close {
			parts[i] = series.Dates[i] + " " + fnum(series.Close[i])
		}
		fmt.Fprintf(sb, "Recent closes: %s\n", strings.Join(parts, ", "))
	}
}

func section(sb *strings.Builder, title string) {
	fmt.Fprintf(sb, "\n## %s\n", title)
}

func num(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fnum(*v)
}

// fnum prints at most four decimals without trailing zeros
func fnum(v float64) string {
	s := strconv.FormatFloat(v, 'f', 4, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	return s
}
