package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// Bar draws an epoch progress bar. It implements Listener and creates the
// underlying bar once the trainer announces its epoch range.
type Bar struct {
	mu    sync.Mutex
	w     io.Writer
	title string
	bar   *progressbar.ProgressBar
	from  int
	epoch int
}

// NewBar creates a Bar that writes to w.
func NewBar(w io.Writer, title string) *Bar {
	return &Bar{w: w, title: title}
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// OnRange implements Listener.
func (b *Bar) OnRange(from, to int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := to - from
	if total <= 0 || b.bar != nil {
		return
	}
	b.from = from
	b.epoch = from
	b.bar = progressbar.NewOptions(
		total,
		progressbar.OptionSetWriter(b.w),
		progressbar.OptionSetDescription(b.title),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// OnBatch implements Listener. The bar counts finished epochs, so it
// advances when the first batch of a later epoch arrives.
func (b *Bar) OnBatch(epoch, batch int, loss float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.bar == nil {
		return
	}
	if epoch > b.epoch {
		b.epoch = epoch
		_ = b.bar.Set(epoch - b.from)
	}
	b.bar.Describe(fmt.Sprintf("%s epoch %d batch %d loss %.6f", b.title, epoch, batch, loss))
}

// OnValidation implements Listener.
func (b *Bar) OnValidation(epoch int, loss float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.bar == nil {
		return
	}
	b.bar.Describe(fmt.Sprintf("%s epoch %d val %.6f", b.title, epoch, loss))
}

// Finish completes the bar and moves to a new line. Safe to call when
// no range was ever announced.
func (b *Bar) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.bar == nil {
		return
	}
	_ = b.bar.Finish()
	fmt.Fprintln(b.w)
	b.bar = nil
}
