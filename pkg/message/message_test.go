package message

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ajitpratap0/federate/pkg/errors"
)

func TestAtomicRequestIDString(t *testing.T) {
	id := AtomicRequestID{Request: RequestID{SessionID: "s9", ExecutionID: 4}, NodeID: 2, ExecCount: 1}
	assert.Equal(t, "s9.4.2.1", id.String())
}

func TestValidate(t *testing.T) {
	cmd := &NativeCommand{Text: "select 1"}

	tests := []struct {
		name string
		msg  *AtomicRequestMessage
		ok   bool
	}{
		{"nil", nil, false},
		{"no source", &AtomicRequestMessage{Command: cmd}, false},
		{"no command", &AtomicRequestMessage{Source: "a"}, false},
		{"negative fetch", &AtomicRequestMessage{Source: "a", Command: cmd, FetchSize: -1}, false},
		{"valid", &AtomicRequestMessage{Source: "a", Command: cmd}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.IsType(err, errors.ErrorTypeProcessing))
		})
	}
}

func TestFinalBatch(t *testing.T) {
	assert.False(t, (&AtomicResultsMessage{FinalRow: FinalRowUnknown}).IsFinal())
	assert.True(t, (&AtomicResultsMessage{FinalRow: 0}).IsFinal())
	assert.True(t, TypeBlob.IsLob())
	assert.False(t, TypeVarbinary.IsLob())
}

func TestInTransaction(t *testing.T) {
	msg := &AtomicRequestMessage{}
	assert.False(t, msg.InTransaction())
	msg.TransactionContext = &TransactionContext{Kind: TransactionNone}
	assert.False(t, msg.InTransaction())
	msg.TransactionContext.Kind = TransactionGlobal
	assert.True(t, msg.InTransaction())
}
