package proto

import "time"

// SessionRecord describes one live session. It is the JSON stored in Redis
// and served by /api/sessions.
type SessionRecord struct {
	ID       string    `json:"id"`
	Instance string    `json:"instance,omitempty"`
	Client   string    `json:"client"`
	Target   string    `json:"target"`
	Upstream string    `json:"upstream,omitempty"`
	Started  time.Time `json:"started"`
}

// InstanceStats are the counters one relay process publishes.
type InstanceStats struct {
	Instance  string    `json:"instance"`
	Active    int       `json:"active"`
	Total     int64     `json:"total"`
	Failed    int64     `json:"failed"`
	BytesUp   int64     `json:"bytes_up"`
	BytesDown int64     `json:"bytes_down"`
	Updated   time.Time `json:"updated"`
}

// Add folds o into s, keeping the later Updated.
func (s *InstanceStats) Add(o InstanceStats) {
	s.Active += o.Active
	s.Total += o.Total
	s.Failed += o.Failed
	s.BytesUp += o.BytesUp
	s.BytesDown += o.BytesDown
	if o.Updated.After(s.Updated) {
		s.Updated = o.Updated
	}
}
