// Package progress renders transfer progress for the command line: mpb bars
// for the download queue and a single progressbar line for uploads.
package progress

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"
)

// UploadBar shows one upload. Update matches the upload progress callback.
type UploadBar struct {
	bar   *progressbar.ProgressBar
	out   io.Writer
	total int64
}

// NewUploadBar creates a byte-counting bar. When visible is false nothing is drawn.
func NewUploadBar(w io.Writer, description string, total int64, visible bool) *UploadBar {
	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionSetVisibility(visible),
	)
	return &UploadBar{bar: bar, out: w, total: total}
}

// Update moves the bar to sent. A retried upload starts again from zero.
func (b *UploadBar) Update(sent, total int64) {
	if total > 0 && total != b.total {
		b.total = total
		b.bar.ChangeMax64(total)
	}
	_ = b.bar.Set64(sent)
}

// Finish completes the bar.
func (b *UploadBar) Finish() {
	_ = b.bar.Finish()
}

// Fail stops the bar and prints err under it.
func (b *UploadBar) Fail(err error) {
	_ = b.bar.Exit()
	if err != nil {
		fmt.Fprintf(b.out, "\nError: %v\n", err)
	}
}
