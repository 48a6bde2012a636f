// Package progress renders a run's progress as a terminal bar.
package progress

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cheggaaa/pb/v3"

	"github.com/Davis1233798/proxyfetch/internal/scheduler"
)

const template = `{{ string . "prefix" }} {{ counters . }} {{ bar . }} {{ percent . }} {{ string . "stalls" }} {{ rtime . "ETA %s" }}`

// Bar is a scheduler.Observer that advances by the URLs resolved in each
// round.
type Bar struct {
	out io.Writer
	bar *pb.ProgressBar
}

// New draws on out; a nil out draws on stderr.
func New(out io.Writer) *Bar {
	if out == nil {
		out = os.Stderr
	}
	return &Bar{out: out}
}

func (b *Bar) Started(pending int) {
	bar := pb.New(pending)
	bar.SetTemplateString(template)
	bar.SetWriter(b.out)
	bar.Set("prefix", "Fetching")
	bar.SetMaxWidth(100)
	if b.out == os.Stderr {
		bar.Set(pb.Terminal, true)
	}
	bar.SetRefreshRate(time.Second)
	bar.Start()
	b.bar = bar
}

func (b *Bar) RoundDone(stats scheduler.RoundStats) {
	if b.bar == nil {
		return
	}
	b.bar.Add(stats.Resolved)
	b.bar.Set("prefix", fmt.Sprintf("Round %d", stats.Round))
	if stats.Stalls > 0 {
		b.bar.Set("stalls", fmt.Sprintf("stalled %d", stats.Stalls))
	} else {
		b.bar.Set("stalls", "")
	}
}

func (b *Bar) Finished(res scheduler.Result) {
	if b.bar == nil {
		return
	}
	b.bar.Set("prefix", res.State.String())
	b.bar.Finish()
}

// Current is the number of URLs resolved so far.
func (b *Bar) Current() int64 {
	if b.bar == nil {
		return 0
	}
	return b.bar.Current()
}
