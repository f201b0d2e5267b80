package rpc

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStructConversion_KeepsNestedPayload(t *testing.T) {
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	in := Snapshot{
		Kind:      "license",
		ID:        "license-1",
		Payload:   json.RawMessage(`{"status":"cancelled","seats":3,"tags":["a"]}`),
		Version:   5,
		UpdatedAt: at,
	}

	s, err := ToStruct(in)
	require.NoError(t, err)
	require.Equal(t, "license", s.GetFields()["kind"].GetStringValue())

	var out Snapshot
	require.NoError(t, FromStruct(s, &out))
	require.Equal(t, in.Kind, out.Kind)
	require.Equal(t, in.Version, out.Version)
	require.True(t, at.Equal(out.UpdatedAt))
	require.JSONEq(t, string(in.Payload), string(out.Payload))
	require.False(t, out.Deleted)
}

func TestToStruct_RejectsNonObject(t *testing.T) {
	_, err := ToStruct([]int{1, 2})
	require.Error(t, err)
}

func TestFromStruct_Nil(t *testing.T) {
	var out PingResponse
	require.NoError(t, FromStruct(nil, &out))
	require.Empty(t, out.Status)
}
