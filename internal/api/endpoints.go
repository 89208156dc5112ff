package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"daso/internal/models"
)

const serviceTypesCacheKey = "daso:service-types"

// Queue fetches the current queue snapshot. status filters by entry status
// when non-empty; limit <= 0 keeps the server default. Entries that fail
// validation are dropped and logged.
func (c *Client) Queue(ctx context.Context, status models.Status, limit int) (*models.QueueSnapshot, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", string(status))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/queue-status"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var snap models.QueueSnapshot
	if err := c.doGet(ctx, path, &snap); err != nil {
		return nil, err
	}

	valid := snap.Queue[:0]
	for _, e := range snap.Queue {
		if err := e.Validate(); err != nil {
			c.logger.Warn().Err(err).Msg("dropping queue entry")
			continue
		}
		valid = append(valid, e)
	}
	snap.Queue = valid
	return &snap, nil
}

// ServiceTypes returns the service catalog. The catalog is reference data
// and is served from cache when possible.
func (c *Client) ServiceTypes(ctx context.Context) ([]models.ServiceCatalogEntry, error) {
	var wrap struct {
		ServiceTypes []models.ServiceCatalogEntry `json:"service_types"`
	}
	if c.readCache(ctx, serviceTypesCacheKey, &wrap) {
		return wrap.ServiceTypes, nil
	}
	if err := c.doGet(ctx, "/service-types", &wrap); err != nil {
		return nil, err
	}
	c.writeCache(ctx, serviceTypesCacheKey, wrap)
	return wrap.ServiceTypes, nil
}

// Appointments lists pre-booked appointments for a calendar day.
func (c *Client) Appointments(ctx context.Context, date time.Time) ([]models.Appointment, error) {
	path := "/appointments?date=" + url.QueryEscape(date.Format("2006-01-02"))
	var wrap struct {
		Appointments []models.Appointment `json:"appointments"`
	}
	if err := c.doGet(ctx, path, &wrap); err != nil {
		return nil, err
	}
	return wrap.Appointments, nil
}

// Analytics fetches the manager dashboard aggregates.
func (c *Client) Analytics(ctx context.Context) (*models.Analytics, error) {
	var resp models.Analytics
	if err := c.doGet(ctx, "/analytics", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Staff lists counters and who is serving at them.
func (c *Client) Staff(ctx context.Context) ([]models.StaffMember, error) {
	var wrap struct {
		Staff []models.StaffMember `json:"staff"`
	}
	if err := c.doGet(ctx, "/staff", &wrap); err != nil {
		return nil, err
	}
	return wrap.Staff, nil
}

// HoldingPool lists late arrivals the service moved out of the live queue.
func (c *Client) HoldingPool(ctx context.Context) ([]models.QueueEntry, error) {
	var wrap struct {
		HoldingPool []models.QueueEntry `json:"holding_pool"`
		Count       int                 `json:"count"`
	}
	if err := c.doGet(ctx, "/holding-pool", &wrap); err != nil {
		return nil, err
	}
	return wrap.HoldingPool, nil
}

// Book issues a walk-in token or a pre-booking.
func (c *Client) Book(ctx context.Context, req models.BookingRequest) (*models.BookingResult, error) {
	var resp models.BookingResult
	if err := c.doPost(ctx, "/book-slot", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StaffUpdate posts a start/complete/no_show action for a queue entry.
func (c *Client) StaffUpdate(ctx context.Context, req models.StaffActionRequest) (*models.StaffActionResult, error) {
	if !req.Action.Valid() {
		return nil, fmt.Errorf("invalid staff action %q", req.Action)
	}
	var resp models.StaffActionResult
	if err := c.doPost(ctx, "/staff-update", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckIn runs the proximity check-in lookup. An unknown customer is a
// negative result, not an error.
func (c *Client) CheckIn(ctx context.Context, req models.CheckInRequest) (*models.CheckInResult, error) {
	var resp models.CheckInResult
	err := c.doPost(ctx, "/sim-proximity", req, &resp)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return &models.CheckInResult{Success: false, Message: se.Detail}, nil
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// PredictDuration asks the service for a duration estimate.
func (c *Client) PredictDuration(ctx context.Context, q models.DurationQuery) (*models.DurationEstimate, error) {
	var resp models.DurationEstimate
	if err := c.doPost(ctx, "/predict-time", q, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HealthCheck checks if the queue service is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doGet(ctx, "/", &resp); err != nil {
		return err
	}
	if resp.Status != "online" {
		return fmt.Errorf("health check failed: status %q", resp.Status)
	}
	return nil
}
