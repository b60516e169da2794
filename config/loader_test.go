package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  listen_addr: ":9090"
sqrl:
  local_domain_name: example.com
  port: 8443
  url_path: /sqrl
  domain_extension: 5
  nut_ttl: 6h
  client_login_success_url: https://example.com/loginSuccess
  client_cancel_auth_url: https://example.com/loginCancelled
storage:
  type: memory
session:
  token_secret: super-secret
logging:
  level: debug
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.Server.ListenAddr)
	require.Equal(t, "example.com", cfg.SQRL.LocalDomainName)
	require.Equal(t, 8443, cfg.SQRL.Port)
	require.Equal(t, 5, cfg.SQRL.DomainExtension)
	require.Equal(t, 6*time.Hour, cfg.SQRL.NutTTL.Std())
	require.Equal(t, "memory", cfg.Storage.Type)
	require.Equal(t, "super-secret", cfg.Session.TokenSecret)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
sqrl:
  local_domain_name: example.com
  client_login_success_url: /loginSuccess
`))
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Server.ListenAddr)
	require.Equal(t, "/sqrl", cfg.SQRL.URLPath)
	require.Equal(t, 12*time.Hour, cfg.SQRL.NutTTL.Std())
	require.Equal(t, "random", cfg.SQRL.NutGenerator.Type)
	require.Equal(t, "memory", cfg.Storage.Type)
	require.Equal(t, time.Hour, cfg.Session.TokenTTL.Std())
	require.Equal(t, "example.com", cfg.Session.TokenIssuer)
}

func TestParseEnvSubstitution(t *testing.T) {
	t.Setenv("SQRL_TEST_DOMAIN", "login.example.org")

	cfg, err := Parse([]byte(`
sqrl:
  local_domain_name: ${SQRL_TEST_DOMAIN}
  client_login_success_url: ${SQRL_TEST_SUCCESS:/loginSuccess}
`))
	require.NoError(t, err)
	require.Equal(t, "login.example.org", cfg.SQRL.LocalDomainName)
	require.Equal(t, "/loginSuccess", cfg.SQRL.ClientLoginSuccessURL)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing domain", `
sqrl:
  client_login_success_url: /ok
`},
		{"missing success url", `
sqrl:
  local_domain_name: example.com
`},
		{"encrypted nuts need a key", `
sqrl:
  local_domain_name: example.com
  client_login_success_url: /ok
  nut_generator:
    type: encrypted
`},
		{"postgres needs a host", `
sqrl:
  local_domain_name: example.com
  client_login_success_url: /ok
storage:
  type: postgres
`},
		{"unknown storage type", `
sqrl:
  local_domain_name: example.com
  client_login_success_url: /ok
storage:
  type: carrier-pigeon
`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
		})
	}
}
