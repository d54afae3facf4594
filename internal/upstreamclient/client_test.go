package upstreamclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiro-gateway/kiro-gateway/internal/credpool"
)

func TestRefreshTokenSocial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"accessToken":"abc","expiresIn":3600}`))
	}))
	defer srv.Close()

	c := New(Endpoints{SocialRefreshURL: srv.URL})
	token, expiresIn, err := c.RefreshToken(context.Background(), credpool.Config{Auth: credpool.AuthSocial, RefreshToken: "rt"})
	require.NoError(t, err)
	assert.Equal(t, "abc", token)
	assert.Equal(t, int64(3600), int64(expiresIn.Seconds()))
}

func TestRefreshTokenIdCBody(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"accessToken":"xyz","expiresIn":10}`))
	}))
	defer srv.Close()

	c := New(Endpoints{IdCRefreshURL: srv.URL})
	_, _, err := c.RefreshToken(context.Background(), credpool.Config{
		Auth: credpool.AuthIdC, RefreshToken: "rt", ClientID: "cid", ClientSecret: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "cid", gotBody["clientId"])
	assert.Equal(t, "refresh_token", gotBody["grantType"])
}

func TestProbeQuotaSumsCreditResourcesAndActiveFreeTrial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"usageBreakdownList": [
				{"resourceType":"CREDIT","usageLimitWithPrecision":100,"currentUsageWithPrecision":60},
				{"resourceType":"OTHER","usageLimitWithPrecision":999,"currentUsageWithPrecision":0}
			],
			"freeTrialInfo": {"freeTrialStatus":"ACTIVE","usageLimitWithPrecision":20,"currentUsageWithPrecision":5}
		}`))
	}))
	defer srv.Close()

	c := New(Endpoints{QuotaProbeURL: srv.URL})
	quota, err := c.ProbeQuota(context.Background(), "token")
	require.NoError(t, err)
	assert.Equal(t, 55, quota) // (100-60) + (20-5) = 40+15 = 55
}

func TestProbeQuotaClampsToZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"usageBreakdownList":[{"resourceType":"CREDIT","usageLimitWithPrecision":1,"currentUsageWithPrecision":50}]}`))
	}))
	defer srv.Close()

	c := New(Endpoints{QuotaProbeURL: srv.URL})
	quota, err := c.ProbeQuota(context.Background(), "token")
	require.NoError(t, err)
	assert.Equal(t, 0, quota)
}
