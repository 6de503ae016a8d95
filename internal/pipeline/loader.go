package pipeline

import (
	"context"
	"errors"

	"github.com/couchcryptid/striga-risk/internal/domain"
)

// FanOutLoader delivers every batch to all of its loaders in order, for
// example the results topic and the assessment store.
type FanOutLoader []BatchLoader

func (f FanOutLoader) LoadBatch(ctx context.Context, records []domain.AssessmentRecord) error {
	var errs []error
	for _, l := range f {
		if err := l.LoadBatch(ctx, records); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
