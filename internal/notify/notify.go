// Package notify is the single-slot user-facing notification state.
// Showing a notification replaces whatever is visible; there is no queue.
package notify

import (
	"sync"
	"time"
)

// Severity selects how a notification is presented.
type Severity string

const (
	Success Severity = "success"
	Info    Severity = "info"
	Warning Severity = "warning"
	Error   Severity = "error"
)

const (
	DefaultTimeout = 3000 * time.Millisecond
	ErrorTimeout   = 5000 * time.Millisecond
)

// Options tune one notification. Zero values take the defaults.
type Options struct {
	Timeout   time.Duration
	MultiLine bool
}

// Notification is the content of the slot.
type Notification struct {
	Visible   bool          `json:"visible"`
	Message   string        `json:"message"`
	Severity  Severity      `json:"severity"`
	Timeout   time.Duration `json:"timeout"`
	MultiLine bool          `json:"multi_line"`
}

// Center owns the slot. Timing the hide is left to whoever renders it.
type Center struct {
	mu       sync.RWMutex
	current  Notification
	onChange func(Notification)
}

// NewCenter returns an empty center. onChange, if set, is called after every change.
func NewCenter(onChange func(Notification)) *Center {
	return &Center{
		current:  Notification{Severity: Info, Timeout: DefaultTimeout},
		onChange: onChange,
	}
}

// Show makes message visible, overwriting the slot.
func (c *Center) Show(message string, severity Severity, opts Options) {
	if severity == "" {
		severity = Info
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c.set(Notification{
		Visible:   true,
		Message:   message,
		Severity:  severity,
		Timeout:   timeout,
		MultiLine: opts.MultiLine,
	})
}

func (c *Center) Success(message string, opts Options) { c.Show(message, Success, opts) }
func (c *Center) Info(message string, opts Options)    { c.Show(message, Info, opts) }
func (c *Center) Warning(message string, opts Options) { c.Show(message, Warning, opts) }

// Error shows an error notification; its timeout defaults to ErrorTimeout.
func (c *Center) Error(message string, opts Options) {
	if opts.Timeout <= 0 {
		opts.Timeout = ErrorTimeout
	}
	c.Show(message, Error, opts)
}

// Hide makes the slot invisible immediately, keeping its last content.
func (c *Center) Hide() {
	c.mu.Lock()
	c.current.Visible = false
	n := c.current
	c.mu.Unlock()
	c.notify(n)
}

// Current returns a copy of the slot.
func (c *Center) Current() Notification {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

func (c *Center) set(n Notification) {
	c.mu.Lock()
	c.current = n
	c.mu.Unlock()
	c.notify(n)
}

func (c *Center) notify(n Notification) {
	if c.onChange != nil {
		c.onChange(n)
	}
}
