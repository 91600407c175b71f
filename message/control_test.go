package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorbridge/errors"
)

func TestServiceAnnouncement_PreservesExtraFields(t *testing.T) {
	in := `{"id":"dev1","service":[{"characteristic":"temperature","interval":300},{"characteristic":"buttons"}]}`

	ann, err := Decode[ServiceAnnouncement]([]byte(in))
	require.NoError(t, err)
	require.Len(t, ann.Service, 2)
	assert.Equal(t, "temperature", ann.Service[0].Characteristic)
	assert.Equal(t, map[string]any{"interval": float64(300)}, ann.Service[0].Extra)
	assert.Nil(t, ann.Service[1].Extra)

	out, err := json.Marshal(ann)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}

func TestSubscriptionRequest_JSON(t *testing.T) {
	req := SubscriptionRequest{
		ID:      "dev1",
		Request: RequestService,
		Service: []ServiceRequest{{Characteristic: "temperature", Interval: 600}},
	}
	out, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"dev1","request":"service","service":[{"characteristic":"temperature","interval":600}]}`, string(out))
}

func TestStateReport_JSON(t *testing.T) {
	out, err := json.Marshal(NewStateReport("AID3", StateRunning))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"AID3","status":"state","state":"running"}`, string(out))
}

func TestNewServicesPost(t *testing.T) {
	post := NewServicesPost("AID12", map[string]string{"dev1": "Kitchen_Tag"}, nil)
	assert.Equal(t, 12, post.Channel)
	assert.Equal(t, "req", post.Msg)
	assert.Equal(t, "post", post.Verb)
	assert.Equal(t, "services", post.Body.Msg)
	assert.Equal(t, "Kitchen_Tag", post.Body.IDToName["dev1"])
}

func TestAppChannel(t *testing.T) {
	assert.Equal(t, 7, AppChannel("AID7"))
	assert.Equal(t, 0, AppChannel("AID"))
	assert.Equal(t, 0, AppChannel("sensorbridge"))
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode[ConfigureMessage]([]byte(`[1,2`))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrParsingFailed)
	assert.True(t, errors.IsInvalid(err))
}
