// Package app wires the dashboard services for one workspace.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"truckdash/internal/config"
	"truckdash/internal/datefilter"
	"truckdash/internal/log"
	"truckdash/internal/metrics"
	"truckdash/internal/notify"
	"truckdash/internal/push"
	"truckdash/internal/session"
	"truckdash/internal/store"
	"truckdash/internal/trucks"
	truckdashsdk "truckdash/sdk/go"
)

// Dashboard owns every service and their teardown.
type Dashboard struct {
	Config  *config.Config
	Client  *truckdashsdk.Client
	Store   *store.Store
	Session *session.Session
	Notify  *notify.Center
	Trucks  *trucks.Store
	Metrics *metrics.Metrics
	Log     log.Logger
}

// Options overrides collaborators, mostly for tests.
type Options struct {
	HTTPClient *http.Client
	Dialer     push.Dialer
}

// New opens the state store, restores the session and builds the truck store.
func New(ctx context.Context, cfg *config.Config, workspace string, logger log.Logger, opts Options) (*Dashboard, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = log.OrNop(logger)

	client := truckdashsdk.New(cfg.Server.URL)
	if cfg.Server.Timeout > 0 {
		client.Timeout = cfg.Server.Timeout
	}
	client.HTTPClient = opts.HTTPClient

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	filter := datefilter.New(loc)
	from, err := datefilter.ParseOptional(cfg.Filter.From)
	if err != nil {
		return nil, err
	}
	to, err := datefilter.ParseOptional(cfg.Filter.To)
	if err != nil {
		return nil, err
	}
	filter.Set(from, to)

	pushURL, err := push.ChannelURL(cfg.Server.URL, cfg.Push.Path)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.StateDir(workspace))
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	sess, err := session.New(ctx, client, st, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = push.WebsocketDialer{}
	}
	m := metrics.New()
	d := &Dashboard{
		Config:  cfg,
		Client:  client,
		Store:   st,
		Session: sess,
		Metrics: m,
		Log:     logger,
	}
	d.Notify = notify.NewCenter(func(n notify.Notification) {
		if n.Visible {
			logger.WithName("notify").Debug(n.Message, "severity", string(n.Severity))
		}
	})
	d.Trucks = trucks.New(trucks.Options{
		Backend: client,
		Filter:  filter,
		Dialer:  dialer,
		PushURL: pushURL,
		Header:  d.pushHeader,
		Logger:  logger,
		Metrics: m,
	})
	return d, nil
}

func (d *Dashboard) pushHeader() http.Header {
	h := http.Header{}
	if token := d.Session.Token(); token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

// Start is the dashboard's initial load: confirm the session, load trucks and
// stats, then open the push channel. A push failure is reported but not fatal.
func (d *Dashboard) Start(ctx context.Context, filters map[string]string) error {
	if !d.Session.IsAuthenticated() {
		return session.ErrUnauthenticated
	}
	if err := d.Session.FetchUser(ctx); err != nil {
		d.Notify.Error("Session expired, please log in again", notify.Options{})
		return fmt.Errorf("load profile: %w", err)
	}
	d.Trucks.Refresh(ctx, filters)
	if err := d.Trucks.Err(); err != nil {
		d.Notify.Warning("Failed to load trucks", notify.Options{})
	}
	if err := d.Trucks.ConnectWebSocket(ctx); err != nil {
		d.Log.Error(err, "push channel unavailable; live updates disabled")
		d.Notify.Warning("Live updates unavailable", notify.Options{})
	}
	return nil
}

// Report shows the outcome of a write on the notification slot and returns err.
func (d *Dashboard) Report(err error, success string) error {
	if err != nil {
		d.Notify.Error(Describe(err), notify.Options{})
		return err
	}
	if success != "" {
		d.Notify.Success(success, notify.Options{})
	}
	return nil
}

// Close tears down the push channel and the state store.
func (d *Dashboard) Close() error {
	d.Trucks.DisconnectWebSocket()
	if err := d.Log.Sync(); err != nil {
		d.Log.Debug("sync logger", "error", err.Error())
	}
	return d.Store.Close()
}

// Describe turns an error into a message fit for the notification slot.
func Describe(err error) string {
	var apiErr *truckdashsdk.APIError
	if errors.As(err, &apiErr) {
		if detail := apiErr.Detail(); detail != "" {
			return detail
		}
		return http.StatusText(apiErr.StatusCode)
	}
	if errors.Is(err, session.ErrUnauthenticated) {
		return "Please log in first"
	}
	return err.Error()
}
