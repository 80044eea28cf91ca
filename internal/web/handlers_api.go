package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"zigbee-go-router/internal/profile"
	"zigbee-go-router/internal/store"
	"zigbee-go-router/internal/zcl"
)

// defaultHistoryLimit and maxHistoryLimit bound /api/history?limit=.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

type AttributeView struct {
	ID     string      `json:"id"`
	Name   string      `json:"name,omitempty"`
	Type   string      `json:"type"`
	Access string      `json:"access"`
	Value  interface{} `json:"value"`
}

type ClusterView struct {
	ID         string          `json:"id"`
	Name       string          `json:"name,omitempty"`
	Side       string          `json:"side"`
	Vendor     bool            `json:"vendor"`
	Attributes []AttributeView `json:"attributes"`
}

type EndpointView struct {
	ID            uint8         `json:"id"`
	ProfileID     string        `json:"profile_id"`
	DeviceID      string        `json:"device_id"`
	DeviceVersion uint8         `json:"device_version"`
	Clusters      []ClusterView `json:"clusters"`
}

// DescriptorView is the JSON form of a device descriptor with attribute
// values decoded from their wire encoding.
type DescriptorView struct {
	Role              string         `json:"role"`
	InstallCodePolicy bool           `json:"install_code_policy"`
	MaxChildren       uint8          `json:"max_children"`
	ChannelMask       string         `json:"channel_mask"`
	Fingerprint       string         `json:"fingerprint,omitempty"`
	Endpoints         []EndpointView `json:"endpoints"`
}

func describe(d *profile.DeviceDescriptor) DescriptorView {
	v := DescriptorView{
		Role:              d.Role.String(),
		InstallCodePolicy: d.InstallCodePolicy,
		MaxChildren:       d.MaxChildren,
		ChannelMask:       fmt.Sprintf("0x%08X", d.ChannelMask),
		Endpoints:         make([]EndpointView, 0, len(d.Endpoints)),
	}
	if fp, err := d.Fingerprint(); err == nil {
		v.Fingerprint = fp.String()
	}
	for _, ep := range d.Endpoints {
		ev := EndpointView{
			ID:            ep.ID,
			ProfileID:     fmt.Sprintf("0x%04X", ep.ProfileID),
			DeviceID:      fmt.Sprintf("0x%04X", ep.DeviceID),
			DeviceVersion: ep.DeviceVersion,
			Clusters:      make([]ClusterView, 0, len(ep.Clusters)),
		}
		for _, c := range ep.Clusters {
			cv := ClusterView{
				ID:         fmt.Sprintf("0x%04X", c.ID),
				Name:       c.Name,
				Side:       "server",
				Vendor:     c.IsManufacturerSpecific(),
				Attributes: make([]AttributeView, 0, len(c.Attributes)),
			}
			if c.Role == profile.ClusterClient {
				cv.Side = "client"
			}
			for _, a := range c.Attributes {
				av := AttributeView{
					ID:     fmt.Sprintf("0x%04X", a.ID),
					Name:   a.Name,
					Type:   zcl.TypeName(a.Type),
					Access: zcl.AccessString(a.Access),
				}
				if val, _, err := zcl.DecodeValue(a.Type, a.Value); err == nil {
					av.Value = val
				} else {
					av.Value = fmt.Sprintf("%X", a.Value)
				}
				cv.Attributes = append(cv.Attributes, av)
			}
			ev.Clusters = append(ev.Clusters, cv)
		}
		v.Endpoints = append(v.Endpoints, ev)
	}
	return v
}

func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.currentStatus())
}

func (s *Server) handleAPIDescriptor(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, describe(s.desc))
}

func (s *Server) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "history not available"})
		return
	}
	limit := defaultHistoryLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	entries, err := s.history.ListHistory(limit)
	if err != nil {
		s.logger.Error("list history", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if entries == nil {
		entries = []*store.HistoryEntry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
