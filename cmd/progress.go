package cmd

import (
	"fmt"
	"io"
	"strings"
)

const barWidth = 30

// progress draws a one-line counter of finished and failed items.
type progress struct {
	label  string
	total  int
	done   int
	failed int
	w      io.Writer
}

func newProgress(label string, total int, w io.Writer) *progress {
	return &progress{label: label, total: total, w: w}
}

// Step records one finished item.
func (p *progress) Step(ok bool) {
	if p.done < p.total {
		p.done++
	}
	if !ok {
		p.failed++
	}
	p.draw()
}

// Done jumps to the end and terminates the line.
func (p *progress) Done() {
	p.done = p.total
	p.draw()
	fmt.Fprintln(p.w)
}

func (p *progress) draw() {
	if p.total <= 0 {
		return
	}
	filled := p.done * barWidth / p.total
	bar := strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled)
	fmt.Fprintf(p.w, "\r%s [%s] %d/%d", p.label, bar, p.done, p.total)
	if p.failed > 0 {
		fmt.Fprintf(p.w, " (%d failed)", p.failed)
	}
}
