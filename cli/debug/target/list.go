package target

import (
	"context"

	"github.com/golang/glog"

	"github.com/mongoose-os/adbg/common/multierror"
)

// List is the registry of probed targets for one probe session.
// A driver that loses its probe (SIGLOST) asks the list to drop
// everything rather than mutating global state itself.
type List struct {
	targets []Target
}

func (l *List) Add(t Target) {
	l.targets = append(l.targets, t)
}

func (l *List) Targets() []Target {
	return l.targets
}

// Free detaches every target and empties the list. Detach errors are
// collected; a lost probe typically fails them all.
func (l *List) Free(ctx context.Context) error {
	var err error
	for _, t := range l.targets {
		if derr := t.Detach(ctx); derr != nil {
			glog.Errorf("detach %s: %v", t.Driver(), derr)
			err = multierror.Append(err, derr)
		}
	}
	l.targets = nil
	return multierror.ErrorOrNil(err)
}

// Drop removes targets without detaching. Used when the probe is gone
// and no further communication is possible.
func (l *List) Drop() {
	l.targets = nil
}
