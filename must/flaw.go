package must

import (
	"errors"
	"fmt"

	"github.com/xeptore/flaw/v8"
)

// BeFlaw extracts the flaw from err. Callers guard it with errutil.IsFlaw, so
// a non-flaw error here is a programming mistake.
func BeFlaw(err error) *flaw.Flaw {
	var f *flaw.Flaw
	if !errors.As(err, &f) {
		panic(fmt.Sprintf("must: want *flaw.Flaw, got %T: %v", err, err))
	}
	return f
}
