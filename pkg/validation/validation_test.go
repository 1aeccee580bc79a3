package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type subscribeMessage struct {
	Type   string   `json:"type" validate:"required,oneof=subscribe:jobs unsubscribe:jobs ping"`
	JobIDs []string `json:"jobIds" validate:"omitempty,dive,required"`
}

func TestStruct_ReportsJSONNames(t *testing.T) {
	err := Struct(subscribeMessage{Type: "shout", JobIDs: []string{""}})
	require.Error(t, err)

	issues := Issues(err)
	require.Len(t, issues, 2)
	assert.Contains(t, issues[0], "subscribeMessage.type")
	assert.Contains(t, issues[0], "oneof")
	assert.Contains(t, issues[1], "jobIds[0]")
}

func TestStruct_Valid(t *testing.T) {
	assert.NoError(t, Struct(subscribeMessage{Type: "ping"}))
	assert.Nil(t, Issues(nil))
}
