package main

import (
	"io"

	"github.com/schollz/progressbar/v3"
)

// meshProgress renders marching-cubes progress as a bar on
// w. It returns nil when quiet is set.
func meshProgress(w io.Writer, quiet bool, description string) func(done, total int) {
	if quiet {
		return nil
	}
	var bar *progressbar.ProgressBar
	return func(done, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription(description),
				progressbar.OptionSetWriter(w),
				progressbar.OptionSetTheme(progressbar.ThemeASCII),
				progressbar.OptionSetItsString("slabs"),
				progressbar.OptionShowIts(),
				progressbar.OptionClearOnFinish(),
			)
		}
		bar.Set(done)
	}
}
