package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/couchcryptid/striga-risk/internal/domain"
)

// Assessor runs a single assessment request.
type Assessor interface {
	Assess(ctx context.Context, req domain.AssessmentRequest) (domain.AssessmentRecord, error)
}

// AssessmentTransformer implements Transformer by decoding each message as an
// assessment request and running it through an Assessor.
type AssessmentTransformer struct {
	assessor Assessor
}

// NewTransformer creates an AssessmentTransformer.
func NewTransformer(assessor Assessor) *AssessmentTransformer {
	return &AssessmentTransformer{assessor: assessor}
}

func (t *AssessmentTransformer) Transform(ctx context.Context, raw domain.RawMessage) (domain.AssessmentRecord, error) {
	req, err := ParseRequest(raw)
	if err != nil {
		return domain.AssessmentRecord{}, err
	}
	return t.assessor.Assess(ctx, req)
}

// ParseRequest decodes the JSON payload of a raw message.
func ParseRequest(raw domain.RawMessage) (domain.AssessmentRequest, error) {
	var req domain.AssessmentRequest
	if err := json.Unmarshal(raw.Value, &req); err != nil {
		return domain.AssessmentRequest{}, fmt.Errorf("decode assessment request at offset %d: %w", raw.Offset, err)
	}
	return req, nil
}
