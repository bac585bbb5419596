package provision

// ProgressEvent is a fire-and-forget status notification emitted after each
// stage. Percent values over one run are non-decreasing and end at 100 on
// success. A terminal event has either Publish set (success) or a non-empty
// ErrorDetail (failure); failure events also carry handles to any resources
// created before the failure so an operator can clean them up by hand.
type ProgressEvent struct {
	Message     string
	Percent     int
	ErrorDetail string

	Publish   bool
	CloneURL  string
	FolderURL string
}

// Reporter receives progress events. Emission is not synchronized with the
// next stage's start; implementations must not block the run.
type Reporter interface {
	Progress(ev ProgressEvent)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(ev ProgressEvent)

func (f ReporterFunc) Progress(ev ProgressEvent) { f(ev) }

// NopReporter discards all events.
var NopReporter Reporter = ReporterFunc(func(ProgressEvent) {})
