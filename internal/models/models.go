package models

import (
	"fmt"
	"net/url"
	"time"
)

// EventKind names a tracked behavior. The set is open: callers may use
// kinds that are not declared here.
type EventKind string

const (
	KindSessionStart   EventKind = "session_start"
	KindPageView       EventKind = "page_view"
	KindScrollDepth    EventKind = "scroll_depth"
	KindTabReturn      EventKind = "tab_return"
	KindSessionEnd     EventKind = "session_end"
	KindSearch         EventKind = "search"
	KindProductView    EventKind = "product_view"
	KindAddToCart      EventKind = "add_to_cart"
	KindRemoveFromCart EventKind = "remove_from_cart"
	KindCheckoutStart  EventKind = "checkout_start"
	KindFilterCategory EventKind = "filter_category"
	KindFilterFeatured EventKind = "filter_featured"
)

// Event is one row of the analytics_events table.
type Event struct {
	SessionID string         `json:"session_id" bson:"session_id"`
	VisitorID string         `json:"visitor_id" bson:"visitor_id"`
	Type      EventKind      `json:"event_type" bson:"event_type"`
	Data      map[string]any `json:"event_data" bson:"event_data"` // arbitrary JSON
	PageURL   string         `json:"page_url" bson:"page_url"`
	PageTitle string         `json:"page_title" bson:"page_title"`
	CreatedAt time.Time      `json:"created_at" bson:"created_at"`
}

// Validate checks the fields every stored event must carry.
func (e Event) Validate() error {
	if e.SessionID == "" {
		return fmt.Errorf("session_id cannot be empty")
	}
	if e.VisitorID == "" {
		return fmt.Errorf("visitor_id cannot be empty")
	}
	if e.Type == "" {
		return fmt.Errorf("event_type cannot be empty")
	}
	if e.CreatedAt.IsZero() {
		return fmt.Errorf("created_at must be set")
	}
	return nil
}

// Batch is the payload of a single events insert.
type Batch []Event

type DeviceType string

const (
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceDesktop DeviceType = "desktop"
)

// ClassifyDevice buckets a viewport width in CSS pixels.
func ClassifyDevice(viewportWidth int) DeviceType {
	switch {
	case viewportWidth < 768:
		return DeviceMobile
	case viewportWidth < 1024:
		return DeviceTablet
	default:
		return DeviceDesktop
	}
}

// Session is one row of the analytics_sessions table, written once when a
// new browsing session starts.
type Session struct {
	ID           string     `json:"id" bson:"_id"`
	VisitorID    string     `json:"visitor_id" bson:"visitor_id"`
	Referrer     *string    `json:"referrer" bson:"referrer"` // nullable
	UTMSource    *string    `json:"utm_source" bson:"utm_source"`
	UTMMedium    *string    `json:"utm_medium" bson:"utm_medium"`
	UTMCampaign  *string    `json:"utm_campaign" bson:"utm_campaign"`
	DeviceType   DeviceType `json:"device_type" bson:"device_type"`
	ScreenWidth  int        `json:"screen_width" bson:"screen_width"`
	ScreenHeight int        `json:"screen_height" bson:"screen_height"`
	UserAgent    string     `json:"user_agent" bson:"user_agent"`
}

func (s Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("id cannot be empty")
	}
	if s.VisitorID == "" {
		return fmt.Errorf("visitor_id cannot be empty")
	}
	switch s.DeviceType {
	case DeviceMobile, DeviceTablet, DeviceDesktop:
	default:
		return fmt.Errorf("invalid device_type: %s", s.DeviceType)
	}
	return nil
}

type UTMParams struct {
	Source   *string
	Medium   *string
	Campaign *string
}

// ParseUTM reads the campaign parameters from a page URL. Missing or empty
// parameters stay nil.
func ParseUTM(pageURL string) UTMParams {
	u, err := url.Parse(pageURL)
	if err != nil {
		return UTMParams{}
	}
	q := u.Query()
	return UTMParams{
		Source:   nonEmpty(q.Get("utm_source")),
		Medium:   nonEmpty(q.Get("utm_medium")),
		Campaign: nonEmpty(q.Get("utm_campaign")),
	}
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
