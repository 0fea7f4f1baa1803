package main

import (
	"time"

	"github.com/matst80/portrelay/internal/proto"
)

// Stats represents current relay stats for dashboards & API.
type Stats struct {
	Active    int                   `json:"active"`
	Total     int64                 `json:"total"`
	Failed    int64                 `json:"failed"`
	BytesUp   int64                 `json:"bytes_up"`
	BytesDown int64                 `json:"bytes_down"`
	Instances []proto.InstanceStats `json:"instances,omitempty"`
	Fleet     *proto.InstanceStats  `json:"fleet,omitempty"`
	Now       string                `json:"now"`
}

func statsFrom(local proto.InstanceStats, fleet []proto.InstanceStats) Stats {
	var total *proto.InstanceStats
	if len(fleet) > 0 {
		total = &proto.InstanceStats{Instance: "fleet"}
		for _, in := range fleet {
			total.Add(in)
		}
	}
	return Stats{
		Active:    local.Active,
		Total:     local.Total,
		Failed:    local.Failed,
		BytesUp:   local.BytesUp,
		BytesDown: local.BytesDown,
		Instances: fleet,
		Fleet:     total,
		Now:       time.Now().UTC().Format(time.RFC3339),
	}
}

// ToTemplateMap returns a map suited for html/template rendering with expected capitalized keys.
func (s Stats) ToTemplateMap() map[string]any {
	return map[string]any{
		"Active":    s.Active,
		"Total":     s.Total,
		"Failed":    s.Failed,
		"BytesUp":   s.BytesUp,
		"BytesDown": s.BytesDown,
		"Instances": s.Instances,
		"Fleet":     s.Fleet,
	}
}
