package cmd

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/dmitrijs2005/kycflow/internal/server/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = append([]string{appName}, args...)
	t.Setenv("KYC_CONFIG", "")
	t.Setenv("KYC_SECRET_KEY", "test-secret")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestToken_MintsVerifiableToken(t *testing.T) {
	out, err := run(t, "token", "--user", "user-7", "--ttl", "5m")
	require.NoError(t, err)

	uid, err := auth.GetUserIDFromToken(strings.TrimSpace(out), []byte("test-secret"))
	require.NoError(t, err)
	assert.Equal(t, "user-7", uid)
}

func TestToken_RequiresUser(t *testing.T) {
	_, err := run(t, "token")
	assert.ErrorContains(t, err, "--user")
}

func TestUnknownCommand(t *testing.T) {
	_, err := run(t, "bogus")
	assert.Error(t, err)
}
