package controlplane

import (
	"context"
	"net/http"
)

func campaignPath(id ID, suffix string) string {
	return "/api/automation/campaign/" + id.String() + suffix
}

// RunningCampaigns returns campaigns whose status is running
func (c *Client) RunningCampaigns(ctx context.Context) ([]Campaign, error) {
	var resp campaignsResponse
	if err := c.Do(ctx, http.MethodGet, "/api/campaigns", nil, &resp); err != nil {
		return nil, err
	}

	running := make([]Campaign, 0, len(resp.Campaigns))
	for _, camp := range resp.Campaigns {
		if camp.Status == CampaignRunning {
			running = append(running, camp)
		}
	}
	return running, nil
}

// CampaignData fetches the automation payload for a campaign
func (c *Client) CampaignData(ctx context.Context, id ID) (*CampaignData, error) {
	var data CampaignData
	if err := c.Do(ctx, http.MethodGet, campaignPath(id, ""), nil, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// ReportProgress posts a best-effort progress event
func (c *Client) ReportProgress(ctx context.Context, id ID, ev ProgressEvent) error {
	return c.Do(ctx, http.MethodPost, campaignPath(id, "/progress"), ev, nil)
}

// ProcessedRecipients returns the recipients the control plane has recorded as handled
func (c *Client) ProcessedRecipients(ctx context.Context, id ID) ([]string, error) {
	var resp processedResponse
	if err := c.Do(ctx, http.MethodGet, campaignPath(id, "/processed-recipients"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.ProcessedRecipients, nil
}

// CompleteCampaign marks a campaign completed with final counters
func (c *Client) CompleteCampaign(ctx context.Context, id ID, totalSent, totalFailed int) error {
	body := completeRequest{TotalSent: totalSent, TotalFailed: totalFailed}
	return c.Do(ctx, http.MethodPost, campaignPath(id, "/complete"), body, nil)
}

// FailCampaign marks a campaign failed
func (c *Client) FailCampaign(ctx context.Context, id ID, reason string) error {
	return c.Do(ctx, http.MethodPost, campaignPath(id, "/fail"), failRequest{Reason: reason}, nil)
}

// PendingRequests returns the pending requests of one ancillary queue
func (c *Client) PendingRequests(ctx context.Context, q Queue) ([]WorkRequest, error) {
	var resp requestsResponse
	if err := c.Do(ctx, http.MethodGet, q.requestsPath(), nil, &resp); err != nil {
		return nil, err
	}

	pending := make([]WorkRequest, 0, len(resp.Requests))
	for _, req := range resp.Requests {
		if req.Status == RequestPending {
			pending = append(pending, req)
		}
	}
	return pending, nil
}

// UpdateRequest reports a request's status
func (c *Client) UpdateRequest(ctx context.Context, q Queue, id ID, update RequestUpdate) error {
	return c.Do(ctx, http.MethodPost, q.requestsPath()+"/"+id.String()+"/update", update, nil)
}

// ListProfiles returns the first page of profiles known to the control plane
func (c *Client) ListProfiles(ctx context.Context) ([]Profile, error) {
	var resp profilesResponse
	if err := c.Do(ctx, http.MethodGet, "/api/profiles?page=1&limit=100", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Profiles, nil
}
