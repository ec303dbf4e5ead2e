// Package domain
package domain

import "time"

type Collaborator string

const (
	Reputation Collaborator = "reputation"
	ThreatList Collaborator = "threatlist"
	Probe      Collaborator = "probe"
	Browser    Collaborator = "browser"
)

// PhishingThreshold is the malicious engine count above which a URL counts as phishing.
const PhishingThreshold = 3

type AnalysisStats struct {
	Malicious  int `json:"malicious"`
	Harmless   int `json:"harmless"`
	Suspicious int `json:"suspicious"`
	Undetected int `json:"undetected"`
	Timeout    int `json:"timeout,omitempty"`
}

type ReputationAttributes struct {
	LastAnalysisStats *AnalysisStats `json:"last_analysis_stats,omitempty"`
	LastAnalysisDate  int64          `json:"last_analysis_date,omitempty"`
}

type ReputationData struct {
	ID         string               `json:"id,omitempty"`
	Type       string               `json:"type,omitempty"`
	Attributes ReputationAttributes `json:"attributes"`
}

type ReputationError struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// ReputationResult mirrors the URL object returned by the reputation service.
type ReputationResult struct {
	Data  *ReputationData  `json:"data,omitempty"`
	Error *ReputationError `json:"error,omitempty"`
}

type ThreatEntry struct {
	URL string `json:"url"`
}

type ThreatMatch struct {
	ThreatType      string      `json:"threatType"`
	PlatformType    string      `json:"platformType"`
	ThreatEntryType string      `json:"threatEntryType,omitempty"`
	Threat          ThreatEntry `json:"threat"`
	CacheDuration   string      `json:"cacheDuration,omitempty"`
}

// ThreatListResult is the threat-list response. A nil Matches slice means the
// response had no matches key; an empty one is still a listing.
type ThreatListResult struct {
	Matches []ThreatMatch `json:"matches"`
}

type ProbeResult struct {
	Status          string    `json:"status"`
	BytesDownloaded int64     `json:"bytes_downloaded"`
	RespondedURL    string    `json:"responded_url"`
	Server          string    `json:"server,omitempty"`
	ContentType     string    `json:"content_type"`
	ResponseTimeMs  int64     `json:"response_time"`
	ProbedAt        time.Time `json:"probed"`
	Title           string    `json:"title,omitempty"`
	Language        string    `json:"language,omitempty"`
}

type BrowserResult struct {
	Status     string `json:"status"`
	Screenshot string `json:"screenshot"`
	Blocked    bool   `json:"blocked"`
	FinalURL   string `json:"final_url,omitempty"`
}

// ReportRecord is the persisted per-URL report shape.
type ReportRecord struct {
	Value          string  `json:"value"`
	ProbeStatus    *string `json:"probe_status"`
	ProbeIsAlive   *bool   `json:"probe_is_alive"`
	BrowserStatus  *string `json:"browser_status"`
	BrowserIsAlive *bool   `json:"browser_is_alive"`
	Screenshot     *string `json:"screenshot"`
	WebpageBlocked *bool   `json:"webpage-blocked"`
}
