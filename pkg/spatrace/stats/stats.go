// Package stats aggregates reported values into streaming summaries.
//
// Each observation is folded into a Metric (count, total, min, max, sum of
// squares) so nothing but the summary is retained between harvests.
package stats

import (
	"maps"
	"sync"
)

// Metric summarises a stream of values.
type Metric struct {
	Count        int64   `json:"c"`
	Total        float64 `json:"t"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	SumOfSquares float64 `json:"sos"`
}

// Add folds v into the summary.
func (m *Metric) Add(v float64) {
	if m.Count == 0 {
		m.Min, m.Max = v, v
	} else {
		m.Min = min(m.Min, v)
		m.Max = max(m.Max, v)
	}
	m.Count++
	m.Total += v
	m.SumOfSquares += v * v
}

// Merge folds another summary into m.
func (m *Metric) Merge(o Metric) {
	if o.Count == 0 {
		return
	}
	if m.Count == 0 {
		*m = o
		return
	}
	m.Count += o.Count
	m.Total += o.Total
	m.Min = min(m.Min, o.Min)
	m.Max = max(m.Max, o.Max)
	m.SumOfSquares += o.SumOfSquares
}

// Mean returns Total/Count, or zero for an empty summary.
func (m Metric) Mean() float64 {
	if m.Count == 0 {
		return 0
	}
	return m.Total / float64(m.Count)
}

// Bucket is everything aggregated under one (type, key) pair.
type Bucket struct {
	// Params are the identifying parameters from the first observation.
	Params map[string]any `json:"params"`
	// Custom holds custom attributes; later observations overwrite.
	Custom map[string]any `json:"custom,omitempty"`
	// Count is the number of observations.
	Count   int64              `json:"count"`
	Metrics map[string]*Metric `json:"metrics,omitempty"`
}

// Aggregator groups observations by type and key. It is safe for
// concurrent use.
type Aggregator struct {
	mu      sync.Mutex
	buckets map[string]map[string]*Bucket
}

// New creates an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{buckets: make(map[string]map[string]*Bucket)}
}

// Store records one observation and returns a copy of the updated bucket.
func (a *Aggregator) Store(typ, key string, params map[string]any, metrics map[string]float64, custom map[string]any) Bucket {
	a.mu.Lock()
	defer a.mu.Unlock()

	byKey, ok := a.buckets[typ]
	if !ok {
		byKey = make(map[string]*Bucket)
		a.buckets[typ] = byKey
	}
	b, ok := byKey[key]
	if !ok {
		b = &Bucket{
			Params:  maps.Clone(params),
			Metrics: make(map[string]*Metric),
		}
		byKey[key] = b
	}

	b.Count++
	for name, v := range metrics {
		m, ok := b.Metrics[name]
		if !ok {
			m = &Metric{}
			b.Metrics[name] = m
		}
		m.Add(v)
	}
	if len(custom) > 0 {
		if b.Custom == nil {
			b.Custom = make(map[string]any, len(custom))
		}
		maps.Copy(b.Custom, custom)
	}
	return b.clone()
}

// Get returns a copy of the bucket for (typ, key).
func (a *Aggregator) Get(typ, key string) (Bucket, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.buckets[typ][key]
	if !ok {
		return Bucket{}, false
	}
	return b.clone(), true
}

// Len returns the number of buckets of typ.
func (a *Aggregator) Len(typ string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buckets[typ])
}

// Take removes and returns every bucket of the given types, keyed by type
// then key.
func (a *Aggregator) Take(types ...string) map[string]map[string]Bucket {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]map[string]Bucket, len(types))
	for _, typ := range types {
		byKey, ok := a.buckets[typ]
		if !ok {
			continue
		}
		copied := make(map[string]Bucket, len(byKey))
		for k, b := range byKey {
			copied[k] = b.clone()
		}
		out[typ] = copied
		delete(a.buckets, typ)
	}
	return out
}

// Merge folds previously taken buckets back in, for example after a failed
// harvest.
func (a *Aggregator) Merge(taken map[string]map[string]Bucket) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for typ, byKey := range taken {
		dst, ok := a.buckets[typ]
		if !ok {
			dst = make(map[string]*Bucket)
			a.buckets[typ] = dst
		}
		for key, src := range byKey {
			b, ok := dst[key]
			if !ok {
				c := src.clone()
				dst[key] = &c
				continue
			}
			b.Count += src.Count
			for name, m := range src.Metrics {
				if existing, ok := b.Metrics[name]; ok {
					existing.Merge(*m)
				} else {
					mc := *m
					b.Metrics[name] = &mc
				}
			}
			if len(src.Custom) > 0 {
				if b.Custom == nil {
					b.Custom = make(map[string]any)
				}
				for k, v := range src.Custom {
					if _, ok := b.Custom[k]; !ok {
						b.Custom[k] = v
					}
				}
			}
		}
	}
}

func (b *Bucket) clone() Bucket {
	out := Bucket{
		Params:  maps.Clone(b.Params),
		Custom:  maps.Clone(b.Custom),
		Count:   b.Count,
		Metrics: make(map[string]*Metric, len(b.Metrics)),
	}
	for name, m := range b.Metrics {
		mc := *m
		out.Metrics[name] = &mc
	}
	return out
}
