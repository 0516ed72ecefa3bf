package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reportReady struct {
	Base
	ReportID string `json:"report_id"`
}

func TestNewBaseStampsIdentity(t *testing.T) {
	b := NewBase("report.ready", "report-service")

	assert.NotEmpty(t, b.ID)
	assert.Equal(t, "report.ready", b.Type)
	assert.Equal(t, "report-service", b.Service)
	assert.WithinDuration(t, time.Now().UTC(), b.Timestamp, time.Minute)
}

func TestWrapEncodeDecodeRoundTrip(t *testing.T) {
	ev := reportReady{Base: NewBase("report.ready", "report-service"), ReportID: "rpt-42"}

	env, err := Wrap(ev)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, env.EventID)
	assert.Equal(t, 0, env.RetryCount)

	body, err := env.Encode()
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(body)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, decoded.EventID)

	tag, err := decoded.TypeTag()
	require.NoError(t, err)
	assert.Equal(t, "report.ready", tag)
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	_, err := DecodeEnvelope([]byte("{not json"))
	require.Error(t, err)
}

func TestTypeTagRequiresTag(t *testing.T) {
	env := Envelope{Data: json.RawMessage(`{"report_id":"rpt-1"}`), EventID: "abc"}
	_, err := env.TypeTag()
	require.Error(t, err)
}

func TestRegistryDecodesRegisteredType(t *testing.T) {
	reg := NewRegistry()
	reg.Register("report.ready", Decoder[reportReady]())

	ev := reportReady{Base: NewBase("report.ready", "report-service"), ReportID: "rpt-7"}
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	got, err := reg.Decode("report.ready", data)
	require.NoError(t, err)

	typed, ok := got.(reportReady)
	require.True(t, ok)
	assert.Equal(t, "rpt-7", typed.ReportID)
	assert.Equal(t, ev.ID, typed.EventID())
}

func TestRegistryUnknownTag(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Decode("fraud.alert", []byte(`{}`))
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestDecoderSurfacesUnmarshalError(t *testing.T) {
	fn := Decoder[reportReady]()
	_, err := fn([]byte("{broken"))
	require.Error(t, err)
}
