package session

// Progress is the cosmetic completion percentage of a job. It never moves
// backwards and stays below 100 until the job completes.
type Progress struct {
	total     int
	attempted int
	percent   int
}

// NewProgress starts tracking total chunks with done already handled.
func NewProgress(total, done int) *Progress {
	p := &Progress{total: total}
	p.attempted = max(0, min(done, total))
	p.percent = p.compute()
	return p
}

// Advance records one more attempted chunk and returns the percentage.
func (p *Progress) Advance() int {
	if p.attempted < p.total {
		p.attempted++
	}
	if v := p.compute(); v > p.percent {
		p.percent = v
	}
	return p.percent
}

// Complete snaps the percentage to 100.
func (p *Progress) Complete() int {
	p.percent = 100
	return p.percent
}

// Percent returns the current percentage.
func (p *Progress) Percent() int { return p.percent }

// Attempted returns the number of chunks handled, including resumed ones.
func (p *Progress) Attempted() int { return p.attempted }

func (p *Progress) compute() int {
	if p.total <= 0 {
		return 0
	}
	return min(99, p.attempted*100/p.total)
}
