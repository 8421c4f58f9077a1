package job

import "log/slog"

// Observer receives job notifications. Calls are made synchronously on the
// executing goroutine.
type Observer interface {
	Notify(message, jobID string)
	NotifyProgress(percent int, message, jobID string)
	NotifyError(message, jobID string)
}

// Observers fans notifications out to every member in order.
type Observers []Observer

// Notify implements Observer.
func (o Observers) Notify(message, jobID string) {
	for _, obs := range o {
		obs.Notify(message, jobID)
	}
}

// NotifyProgress implements Observer.
func (o Observers) NotifyProgress(percent int, message, jobID string) {
	for _, obs := range o {
		obs.NotifyProgress(percent, message, jobID)
	}
}

// NotifyError implements Observer.
func (o Observers) NotifyError(message, jobID string) {
	for _, obs := range o {
		obs.NotifyError(message, jobID)
	}
}

// LogObserver forwards notifications to a structured logger.
type LogObserver struct {
	Logger *slog.Logger
}

func (l LogObserver) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

// Notify implements Observer.
func (l LogObserver) Notify(message, jobID string) {
	l.logger().Info(message, "job", jobID)
}

// NotifyProgress implements Observer.
func (l LogObserver) NotifyProgress(percent int, message, jobID string) {
	l.logger().Info(message, "job", jobID, "progress", percent)
}

// NotifyError implements Observer.
func (l LogObserver) NotifyError(message, jobID string) {
	l.logger().Error(message, "job", jobID)
}

type nopObserver struct{}

func (nopObserver) Notify(string, string)              {}
func (nopObserver) NotifyProgress(int, string, string) {}
func (nopObserver) NotifyError(string, string)         {}
