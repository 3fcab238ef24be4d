package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"signalrunner/internal/domain"
)

func TestRegistryAddIsIdempotent(t *testing.T) {
	r := NewRegistry()
	conn := &fakeConn{}
	pos := testPosition()

	r.Add(pos, conn)
	first := r.snapshot()[0]
	first.failures = 2

	r.Add(pos, conn)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 2, r.snapshot()[0].failures, "re-adding must not reset entry state")
}

func TestRegistryCancelUnknownID(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Cancel("missing"))

	r.Add(testPosition(), &fakeConn{})
	assert.True(t, r.Cancel("pos-1"))
	assert.Equal(t, 1, r.Len(), "cancel flags, removal happens in the poll loop")
}

var _ domain.ExchangeConnector = (*fakeConn)(nil)
