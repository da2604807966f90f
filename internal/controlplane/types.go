package controlplane

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID is a control-plane identifier. The server may send it as a JSON number
// or a string; it is echoed back in the same form.
type ID string

// UnmarshalJSON accepts numbers and strings
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", data, err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes integer ids as numbers and everything else as strings
func (id ID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id ID) String() string {
	return string(id)
}

// Campaign statuses
const (
	CampaignRunning   = "running"
	CampaignCompleted = "completed"
	CampaignFailed    = "failed"
)

// Campaign is a send job declared by the control plane
type Campaign struct {
	ID              ID     `json:"id"`
	Name            string `json:"name"`
	Status          string `json:"status"`
	TotalSent       int    `json:"total_sent"`
	TotalFailed     int    `json:"total_failed"`
	MessageTemplate string `json:"message_template,omitempty"`
	DelayStart      int    `json:"delay_start,omitempty"` // seconds
	DelayEnd        int    `json:"delay_end,omitempty"`   // seconds
	MaxRetries      int    `json:"max_retries,omitempty"`
}

// Profile is an automation resource handle; Path is its unique key
type Profile struct {
	ID       ID     `json:"id"`
	Path     string `json:"profile_path"`
	Name     string `json:"profile_name"`
	IsActive bool   `json:"is_active"`
}

// CampaignData is the automation payload for one campaign
type CampaignData struct {
	Campaign   Campaign  `json:"campaign"`
	Profiles   []Profile `json:"profiles"`
	Recipients []string  `json:"recipients"`
}

type campaignsResponse struct {
	Campaigns []Campaign `json:"campaigns"`
}

type processedResponse struct {
	ProcessedRecipients []string `json:"processed_recipients"`
}

type profilesResponse struct {
	Profiles []Profile `json:"profiles"`
}

// Progress actions
const (
	ActionStarted        = "started"
	ActionMessageSent    = "message_sent"
	ActionMessageFailed  = "message_failed"
	ActionProfileBlocked = "profile_blocked"
)

// ProgressEvent is a best-effort campaign progress report
type ProgressEvent struct {
	Action      string `json:"action"`
	Message     string `json:"message"`
	ProfileID   ID     `json:"profile_id,omitempty"`
	Recipient   string `json:"recipient,omitempty"`
	TotalSent   *int   `json:"total_sent,omitempty"`
	TotalFailed *int   `json:"total_failed,omitempty"`
}

type completeRequest struct {
	TotalSent   int `json:"total_sent"`
	TotalFailed int `json:"total_failed"`
}

type failRequest struct {
	Reason string `json:"reason"`
}

// Queue names an ancillary request queue
type Queue string

const (
	QueueUnreadCheck      Queue = "unread-checker"
	QueueProfiles         Queue = "profiles"
	QueueProfileInventory Queue = "firefox-profiles"
)

// Queues lists the ancillary queues in poll order
var Queues = []Queue{QueueUnreadCheck, QueueProfiles, QueueProfileInventory}

func (q Queue) requestsPath() string {
	return "/api/" + string(q) + "/requests"
}

// Request statuses
const (
	RequestPending   = "pending"
	RequestRunning   = "running"
	RequestCompleted = "completed"
	RequestFailed    = "failed"
)

// WorkRequest is an ancillary task. Fields beyond ID and Status are
// queue-specific and empty when a queue does not use them.
type WorkRequest struct {
	ID          ID              `json:"id"`
	Status      string          `json:"status"`
	RequestType string          `json:"request_type,omitempty"`
	ProfilePath string          `json:"profile_path,omitempty"`
	ProfileName string          `json:"profile_name,omitempty"`
	ProfileIDs  json.RawMessage `json:"profile_ids,omitempty"`
	IsDefault   bool            `json:"is_default,omitempty"`
}

type requestsResponse struct {
	Requests []WorkRequest `json:"requests"`
}

// RequestUpdate reports a request's status
type RequestUpdate struct {
	Status       string `json:"status"`
	Results      any    `json:"results,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Terminal reports whether the update ends the request
func (u RequestUpdate) Terminal() bool {
	return u.Status == RequestCompleted || u.Status == RequestFailed
}
