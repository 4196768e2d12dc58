package notify

import (
	"sync"
	"time"

	"github.com/veex0x01/stackscope/detector"
	"github.com/veex0x01/stackscope/reporting"
)

// Alert is a notification about a page whose technology stack changed
type Alert struct {
	Title        string            `json:"title"`
	Message      string            `json:"message"`
	Severity     string            `json:"severity"` // MEDIUM when technologies come or go, LOW for confidence shifts
	Target       string            `json:"target"`
	Added        []string          `json:"added"`
	Removed      []string          `json:"removed"`
	Technologies []detector.Result `json:"technologies"`
	Timestamp    time.Time         `json:"timestamp"`
}

// Notifier is the interface for all notification channels
type Notifier interface {
	Name() string
	Send(alert Alert) error
}

// Dispatcher sends alerts to all configured notification channels
type Dispatcher struct {
	channels []Notifier
	logger   *reporting.Logger
	mu       sync.Mutex
	wg       sync.WaitGroup
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher(logger *reporting.Logger) *Dispatcher {
	return &Dispatcher{
		channels: make([]Notifier, 0),
		logger:   reporting.OrNop(logger).WithModule("notify"),
	}
}

// AddChannel registers a notification channel
func (d *Dispatcher) AddChannel(channel Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels = append(d.channels, channel)
	d.logger.Info("Registered notification channel: %s", channel.Name())
}

// Len is the number of registered channels
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.channels)
}

// Dispatch sends an alert to all channels in the background
func (d *Dispatcher) Dispatch(alert Alert) {
	d.mu.Lock()
	channels := append([]Notifier{}, d.channels...)
	d.mu.Unlock()

	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}

	for _, ch := range channels {
		d.wg.Add(1)
		go func(c Notifier) {
			defer d.wg.Done()
			if err := c.Send(alert); err != nil {
				d.logger.Error("Failed to send to %s: %v", c.Name(), err)
			}
		}(ch)
	}
}

// Wait blocks until every dispatched alert has been sent or failed
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
