package log

import "log/slog"

// Capture is the protocol logger assembled for a command: a capture file,
// an slog echo, both, or neither.
type Capture struct {
	file  *FileLogger
	multi *MultiLogger
}

// OpenCapture opens path as a capture file when path is non-empty and echoes
// events to echo when it is non-nil.
func OpenCapture(path string, echo *slog.Logger) (*Capture, error) {
	c := &Capture{}
	if path != "" {
		f, err := NewFileLogger(path)
		if err != nil {
			return nil, err
		}
		c.file = f
	}

	var adapter Logger
	if echo != nil {
		adapter = NewSlogAdapter(echo)
	}
	if c.file != nil {
		c.multi = NewMultiLogger(c.file, adapter)
	} else {
		c.multi = NewMultiLogger(adapter)
	}
	return c, nil
}

// Logger returns the combined logger, or nil when nothing is configured.
func (c *Capture) Logger() Logger {
	if c.multi.Len() == 0 {
		return nil
	}
	return c.multi
}

// Path returns the capture file path, or "" when no file is open.
func (c *Capture) Path() string {
	if c.file == nil {
		return ""
	}
	return c.file.Path()
}

// Dropped returns how many events failed to reach the capture file.
func (c *Capture) Dropped() int {
	if c.file == nil {
		return 0
	}
	return c.file.Dropped()
}

// Close closes the capture file, if any.
func (c *Capture) Close() error {
	if c.file == nil {
		return nil
	}
	return c.file.Close()
}
