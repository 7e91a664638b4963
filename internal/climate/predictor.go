package climate

import "time"

// predictor smooths room temperature samples and extrapolates them.
type predictor struct {
	history   []float64
	next      int
	filled    bool
	average   float64
	hasAvg    bool
	change    float64
	predicted float64
	last      time.Time
	lookahead time.Duration
}

func newPredictor(samples int, lookahead time.Duration) *predictor {
	return &predictor{
		history:   make([]float64, samples),
		lookahead: lookahead,
	}
}

// add records a sample taken at now.
//
// The first sample fills the whole history so the average starts at the
// first reading. The change is the difference between consecutive averages,
// scaled by lookahead over the time since the previous sample.
func (p *predictor) add(v float64, now time.Time) {
	if !p.filled {
		for i := range p.history {
			p.history[i] = v
		}
		p.filled = true
	} else {
		p.history[p.next] = v
		p.next = (p.next + 1) % len(p.history)
	}

	var sum float64
	for _, h := range p.history {
		sum += h
	}
	avg := sum / float64(len(p.history))
	if p.hasAvg {
		p.change = avg - p.average
	}
	p.average = avg
	p.hasAvg = true

	dt := DefaultSampleInterval
	if !p.last.IsZero() && now.After(p.last) {
		dt = now.Sub(p.last)
	}
	p.last = now

	p.predicted = p.average + float64(p.lookahead)/float64(dt)*p.change
}
