package helpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
)

// Device is one row served by the fake source
type Device struct {
	ID         int64  `json:"id"`
	IP         string `json:"ip"`
	UpdateTime string `json:"updateTime,omitempty"`
}

// FakeSource is a paging source whose dataset can be replaced between syncs
type FakeSource struct {
	mu       sync.Mutex
	devices  []Device
	requests int
	server   *httptest.Server
}

type sourceEnvelope struct {
	Code int        `json:"code"`
	Msg  string     `json:"msg"`
	Data sourcePage `json:"data"`
}

type sourcePage struct {
	Content       []Device `json:"content"`
	TotalElements int      `json:"totalElements"`
}

// NewFakeSource starts a source serving devices
func NewFakeSource(devices ...Device) *FakeSource {
	s := &FakeSource{devices: devices}
	s.server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

func (s *FakeSource) serve(w http.ResponseWriter, r *http.Request) {
	pageNo, _ := strconv.Atoi(r.URL.Query().Get("pageNo"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if pageNo < 1 || pageSize < 1 {
		http.Error(w, "invalid paging", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.requests++
	start := min((pageNo-1)*pageSize, len(s.devices))
	end := min(start+pageSize, len(s.devices))
	page := sourcePage{
		Content:       append([]Device{}, s.devices[start:end]...),
		TotalElements: len(s.devices),
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sourceEnvelope{Data: page})
}

// SetDevices replaces the dataset
func (s *FakeSource) SetDevices(devices ...Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = devices
}

// Requests returns how many pages were served
func (s *FakeSource) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// URL is the extraction endpoint
func (s *FakeSource) URL() string {
	return s.server.URL
}

// Close stops the server
func (s *FakeSource) Close() {
	s.server.Close()
}
