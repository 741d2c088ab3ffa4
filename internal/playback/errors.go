package playback

import "errors"

// ErrOutput reports that the platform audio subsystem rejected
// initialization or scheduling. Not retryable within the same session; the
// output graph needs full reinitialization.
var ErrOutput = errors.New("audio output failure")

// ErrNoChapter reports a transport operation before any chapter was loaded.
var ErrNoChapter = errors.New("no chapter loaded")
