package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntegration_MetadataInt(t *testing.T) {
	in := Integration{Metadata: map[string]any{
		"json_number": float64(3600),
		"string":      "7200",
		"garbage":     "soon",
	}}

	n, ok := in.MetadataInt("json_number")
	assert.True(t, ok)
	assert.Equal(t, int64(3600), n)

	n, ok = in.MetadataInt("string")
	assert.True(t, ok)
	assert.Equal(t, int64(7200), n)

	_, ok = in.MetadataInt("garbage")
	assert.False(t, ok)

	_, ok = in.MetadataInt("missing")
	assert.False(t, ok)
}

func TestIntegration_MetadataString(t *testing.T) {
	in := Integration{Metadata: map[string]any{"channel_id": "C123", "port": float64(9090), "nil": nil}}
	assert.Equal(t, "C123", in.MetadataString("channel_id"))
	assert.Equal(t, "9090", in.MetadataString("port"))
	assert.Equal(t, "", in.MetadataString("nil"))
	assert.Equal(t, "", in.MetadataString("missing"))
}

func TestIntegration_Clone(t *testing.T) {
	in := Integration{
		Credentials: map[string]string{"access_token": "enc"},
		Metadata:    map[string]any{"channel_id": "C1"},
	}
	out := in.Clone()
	out.Credentials["access_token"] = "plain"
	out.Metadata["channel_id"] = "C2"

	assert.Equal(t, "enc", in.Credentials["access_token"])
	assert.Equal(t, "C1", in.Metadata["channel_id"])
}

func TestFindIntegration(t *testing.T) {
	integrations := []Integration{
		{ID: "1", Vendor: Vendor{Name: VendorSlack}},
		{ID: "2", Vendor: Vendor{Name: VendorPagerDuty}},
	}

	in, ok := FindIntegration(integrations, VendorPagerDuty)
	assert.True(t, ok)
	assert.Equal(t, "2", in.ID)

	_, ok = FindIntegration(integrations, VendorGithub)
	assert.False(t, ok)
}

func TestTriggerContext(t *testing.T) {
	assert.Equal(t, "trigger-pagerduty", TriggerContext(VendorPagerDuty))
	assert.Equal(t, "trigger-opsgenie", TriggerContext(VendorOpsgenie))
}
