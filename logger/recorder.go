package logger

import "sync"

// Entry is a single captured log line
type Entry struct {
	Level   string
	Message string
	Meta    Fields
}

// Recorder is a Logger that keeps every entry in memory, used in tests
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// NewRecorder creates an empty Recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Debug(msg string, meta Fields) { r.add("debug", msg, meta) }
func (r *Recorder) Info(msg string, meta Fields)  { r.add("info", msg, meta) }
func (r *Recorder) Warn(msg string, meta Fields)  { r.add("warn", msg, meta) }
func (r *Recorder) Error(msg string, meta Fields) { r.add("error", msg, meta) }

func (r *Recorder) add(level, msg string, meta Fields) {
	cp := make(Fields, len(meta))
	for k, v := range meta {
		cp[k] = v
	}
	r.mu.Lock()
	r.entries = append(r.entries, Entry{Level: level, Message: msg, Meta: cp})
	r.mu.Unlock()
}

// Entries returns a copy of everything logged so far
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Find returns the entries with the given message
func (r *Recorder) Find(msg string) []Entry {
	var out []Entry
	for _, e := range r.Entries() {
		if e.Message == msg {
			out = append(out, e)
		}
	}
	return out
}
