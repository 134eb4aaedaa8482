// Package calendar implements the calendar collaborator contract:
// listAppointments, updateAppointment, healthCheck.
package calendar

import (
	"context"
	"fmt"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/lexiqai/callback-agent/internal/resilience"
	"github.com/lexiqai/callback-agent/internal/session"
)

// Client wraps the Google Calendar API, the concrete calendar provider
// this repository ships with (no pack example implements a calendar
// integration to ground a narrower choice on — see DESIGN.md).
type Client struct {
	svc        *gcal.Service
	calendarID string
	cb         *resilience.CircuitBreaker
}

// NewClient constructs a Client from a service-account credentials JSON
// document (CALENDAR_CREDENTIALS_JSON) and the calendar id to operate on.
func NewClient(ctx context.Context, credentialsJSON []byte, calendarID string, cbMaxFailures int, cbResetTimeout time.Duration) (*Client, error) {
	svc, err := gcal.NewService(ctx, option.WithCredentialsJSON(credentialsJSON))
	if err != nil {
		return nil, fmt.Errorf("calendar: new service: %w", err)
	}
	return &Client{
		svc:        svc,
		calendarID: calendarID,
		cb:         resilience.NewCircuitBreaker("calendar", cbMaxFailures, cbResetTimeout),
	}, nil
}

// ListAppointments returns the peer's upcoming appointments. Only
// sessions with a known phone number get preloaded; the caller is
// responsible for not invoking this for role=unknown peers.
func (c *Client) ListAppointments(ctx context.Context, peer session.Peer) ([]session.Appointment, error) {
	var appts []session.Appointment

	err := c.cb.Call(func() error {
		q := c.svc.Events.List(c.calendarID).
			Context(ctx).
			SingleEvents(true).
			OrderBy("startTime").
			TimeMin(time.Now().Format(time.RFC3339)).
			Q(peer.PhoneNumber)

		events, err := q.Do()
		if err != nil {
			return fmt.Errorf("calendar: list events: %w", err)
		}

		appts = make([]session.Appointment, 0, len(events.Items))
		for _, ev := range events.Items {
			appts = append(appts, eventToAppointment(ev))
		}
		return nil
	})

	return appts, err
}

// UpdateAppointment writes a new start/end/status to an existing
// appointment. Callers must capture the before/after datetimes
// themselves to emit AuditRecord{kind=calendar_update} — this method
// only performs the write.
func (c *Client) UpdateAppointment(ctx context.Context, id string, start, end session.TimeSlot, status string) error {
	return c.cb.Call(func() error {
		ev, err := c.svc.Events.Get(c.calendarID, id).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("calendar: get event %q: %w", id, err)
		}

		ev.Start = &gcal.EventDateTime{DateTime: start.DateTime.Format(time.RFC3339), TimeZone: start.TimeZone}
		ev.End = &gcal.EventDateTime{DateTime: end.DateTime.Format(time.RFC3339), TimeZone: end.TimeZone}
		if status != "" {
			ev.Status = status
		}

		if _, err := c.svc.Events.Update(c.calendarID, id, ev).Context(ctx).Do(); err != nil {
			return fmt.Errorf("calendar: update event %q: %w", id, err)
		}
		return nil
	})
}

// HealthCheck validates the calendar collaborator is reachable, used by
// the /ready endpoint.
func (c *Client) HealthCheck(ctx context.Context) (bool, error) {
	_, err := c.svc.CalendarList.Get(c.calendarID).Context(ctx).Do()
	if err != nil {
		return false, err
	}
	return true, nil
}

func eventToAppointment(ev *gcal.Event) session.Appointment {
	return session.Appointment{
		ID:            ev.Id,
		Summary:       ev.Summary,
		Start:         eventDateTimeToSlot(ev.Start),
		End:           eventDateTimeToSlot(ev.End),
		Status:        ev.Status,
		CustomerPhone: customerPhoneFromEvent(ev),
	}
}

// customerPhoneFromEvent reads the customer's E.164 number out of the
// event's private extended property, where the booking flow that creates
// these events is expected to have stashed it — calendar events carry no
// native phone field.
func customerPhoneFromEvent(ev *gcal.Event) string {
	if ev.ExtendedProperties == nil || ev.ExtendedProperties.Private == nil {
		return ""
	}
	return ev.ExtendedProperties.Private["customerPhone"]
}

func eventDateTimeToSlot(dt *gcal.EventDateTime) session.TimeSlot {
	if dt == nil {
		return session.TimeSlot{}
	}
	t, _ := time.Parse(time.RFC3339, dt.DateTime)
	return session.TimeSlot{DateTime: t, TimeZone: dt.TimeZone}
}
