package memory

import (
	"github.com/syntrixbase/typestore/pkg/driver"
	"github.com/syntrixbase/typestore/pkg/model"
)

// Subscribe delivers the current result of req and a new full result after
// every change in its scope.
func (d *Driver) Subscribe(req model.Request, onNext func([]*driver.RawDoc), onError func(error)) (driver.Unsubscribe, error) {
	if d.closed.Load() {
		return nil, model.WrapDriverError("subscribe", model.ErrClosed)
	}
	return driver.SubscribeFeed(d.feed, d, req, onNext, onError, d.logger)
}
