package pipeline

import (
	"fmt"
	"time"
)

// Timings accumulates wall time per pipeline stage.
type Timings struct {
	Load    time.Duration
	Convert time.Duration
	Infer   time.Duration
	Mesh    time.Duration
	Save    time.Duration
}

func (t Timings) Total() time.Duration {
	return t.Load + t.Convert + t.Infer + t.Mesh + t.Save
}

func (t Timings) String() string {
	ms := func(d time.Duration) string {
		return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
	}
	return fmt.Sprintf("load=%s convert=%s infer=%s mesh=%s save=%s total=%s",
		ms(t.Load), ms(t.Convert), ms(t.Infer), ms(t.Mesh), ms(t.Save), ms(t.Total()))
}

type stage int

const (
	stageLoad stage = iota
	stageConvert
	stageInfer
	stageMesh
	stageSave
)

func (t *Timings) add(s stage, d time.Duration) {
	switch s {
	case stageLoad:
		t.Load += d
	case stageConvert:
		t.Convert += d
	case stageInfer:
		t.Infer += d
	case stageMesh:
		t.Mesh += d
	case stageSave:
		t.Save += d
	}
}
