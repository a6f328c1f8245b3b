package assembler

import (
	"sort"
	"time"

	"github.com/wonny/charlie/backend/internal/contracts"
)

// buildMeta records what the variation actually contains, so coverage and
// reproducibility can be queried without parsing the prompt
func buildMeta(b *bundle, p *pools, opts Options, variationSeed uint64) contracts.SourcesMeta {
	meta := contracts.SourcesMeta{
		RunID:         opts.RunID,
		Seed:          opts.Seed,
		VariationSeed: variationSeed,
		Cutoff:        b.Cutoff,
	}

	if w := b.Window; w != nil && len(w.Bars) > 0 {
		meta.Technicals = contracts.TechnicalsMeta{
			Included:    true,
			WindowDays:  len(w.Bars),
			LastBarDate: day(w.Bars[len(w.Bars)-1].Date),
		}
	}

	meta.News.ByBucket = make(map[contracts.Bucket]int, 3)
	newsSources := newSet()
	newsDates := newSet()
	for _, bucket := range contracts.AllBuckets() {
		items := b.News[bucket]
		meta.News.ByBucket[bucket] = len(items)
		meta.News.Count += len(items)
		for _, n := range items {
			newsSources.add(n.Source)
			newsDates.add(day(n.PublishedAtUTC))
		}
	}
	meta.News.Sources = newsSources.sorted()
	meta.News.Dates = newsDates.sorted()

	fundSources, fundDates := newSet(), newSet()
	for _, f := range b.Fundamentals {
		fundSources.add(f.Source)
		fundDates.add(day(f.ReportDate))
	}
	meta.Fundamentals = contracts.ModalityMeta{Count: len(b.Fundamentals), Sources: fundSources.sorted(), Dates: fundDates.sorted()}

	meta.Options = modality(len(b.Options), func(add func(time.Time)) {
		for _, o := range b.Options {
			add(o.AsOfDate)
		}
	})
	meta.Macro = modality(len(b.Macro), func(add func(time.Time)) {
		for _, m := range b.Macro {
			add(m.EventDate)
		}
	})
	meta.Insider = modality(len(b.Insider), func(add func(time.Time)) {
		for _, t := range b.Insider {
			add(t.FilingDate)
		}
	})
	meta.Analyst = modality(len(b.Analyst), func(add func(time.Time)) {
		for _, r := range b.Analyst {
			add(r.RecoDate)
		}
	})

	if len(p.errors) > 0 {
		meta.Errors = make(map[string]string, len(p.errors))
		for k, v := range p.errors {
			meta.Errors[k] = v
		}
	}

	return meta
}

func modality(count int, each func(add func(time.Time))) contracts.ModalityMeta {
	dates := newSet()
	each(func(t time.Time) { dates.add(day(t)) })
	return contracts.ModalityMeta{Count: count, Dates: dates.sorted()}
}

func day(t time.Time) string {
	return t.UTC().Format(contracts.DateLayout)
}

type set map[string]struct{}

func newSet() set { return make(set) }

func (s set) add(v string) {
	if v != "" {
		s[v] = struct{}{}
	}
}

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
