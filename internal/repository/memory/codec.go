package memory

import (
	"encoding/json"
	"fmt"

	"github.com/naperu/estatebot/internal/domain"
)

// Wizard rows are kept serialized so callers never share payload slices,
// mirroring the JSONB column of the SQL store.

func encodeWizard(st *domain.WizardState) ([]byte, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to encode wizard state: %w", err)
	}
	return data, nil
}

func decodeWizard(data []byte) (*domain.WizardState, error) {
	st := &domain.WizardState{}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("failed to decode wizard state: %w", err)
	}
	return st, nil
}
