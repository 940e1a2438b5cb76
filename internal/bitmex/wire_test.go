package bitmex

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/quayside/bitmexgw/errs"
)

func TestSplitRecordsNormalizesShapes(t *testing.T) {
	records, err := splitRecords(json.RawMessage(`{"symbol":"XBTUSD"}`))
	require.NoError(t, err)
	require.Len(t, records, 1)

	records, err = splitRecords(json.RawMessage(`[{"a":1},{"a":2},{"a":3}]`))
	require.NoError(t, err)
	require.Len(t, records, 3)

	records, err = splitRecords(json.RawMessage(`null`))
	require.NoError(t, err)
	require.Nil(t, records)

	records, err = splitRecords(nil)
	require.NoError(t, err)
	require.Nil(t, records)
}

func TestSplitRecordsRejectsBrokenArray(t *testing.T) {
	_, err := splitRecords(json.RawMessage(`[{"a":`))
	require.Error(t, err)
	require.Equal(t, errs.CodeMalformed, errs.CodeOf(err))
}

func TestStreamEnvelopeClassification(t *testing.T) {
	var env streamEnvelope
	require.NoError(t, json.Unmarshal([]byte(`{"error":"Signature not valid."}`), &env))
	require.NotNil(t, env.Error)
	require.Equal(t, "Signature not valid.", *env.Error)

	env = streamEnvelope{}
	require.NoError(t, json.Unmarshal([]byte(`{"success":true,"request":{"op":"authKey"}}`), &env))
	require.Nil(t, env.Error)
	require.NotNil(t, env.Request)
	require.True(t, env.Success)
	require.Equal(t, "authKey", env.Request.Op)

	env = streamEnvelope{}
	require.NoError(t, json.Unmarshal([]byte(`{"table":"trade","data":[{"symbol":"XBTUSD"}]}`), &env))
	require.Equal(t, "trade", env.Table)
	require.NotEmpty(t, env.Data)
}

func TestOrderMsgDistinguishesNullFromAbsent(t *testing.T) {
	var msg orderMsg
	require.NoError(t, json.Unmarshal(
		[]byte(`{"orderID":"v-1","price":null,"ordStatus":"New"}`), &msg))
	require.Nil(t, msg.Price)
	require.NotNil(t, msg.OrdStatus)

	msg = orderMsg{}
	require.NoError(t, json.Unmarshal([]byte(`{"orderID":"v-1","price":42.5}`), &msg))
	require.NotNil(t, msg.Price)
	require.Nil(t, msg.OrdStatus)
}
