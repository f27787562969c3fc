package notify

import (
	"encoding/json"
	"testing"

	"github.com/naperu/estatebot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	lead := &domain.Lead{PublicID: "P1"}
	ev := domain.NewEvent(domain.EventLeadAccepted, lead)

	env := NewEnvelope(ev)
	assert.Equal(t, ev.ID.String(), env.Meta.ID)
	assert.Equal(t, "lead.lead_accepted.v1", env.Meta.Type)
	require.NotNil(t, env.Meta.CorrelationID)
	assert.Equal(t, lead.ID.String(), *env.Meta.CorrelationID)
	require.NotNil(t, env.Meta.Producer)
	assert.Equal(t, "estatebot", *env.Meta.Producer)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	data := decoded["data"].(map[string]any)
	assert.Equal(t, "lead_accepted", data["kind"])
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "lead.field_changed", RoutingKey(domain.EventFieldChanged))
}
