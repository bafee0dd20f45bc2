package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2/google"

	"dpm/internal/config"
	"dpm/internal/domain"
)

const saJSON = `{"type":"service_account","project_id":"sa-proj","client_email":"robot@sa-proj.iam.gserviceaccount.com"}`

type fakeSecrets struct {
	data  map[string][]byte
	calls int
}

func (f *fakeSecrets) Access(_ context.Context, _, secret string) ([]byte, error) {
	f.calls++
	if b, ok := f.data[secret]; ok {
		return b, nil
	}
	return nil, domain.ErrNotFound("secret %s not found", secret)
}

func noADC(context.Context, ...string) (*google.Credentials, error) {
	return nil, errors.New("could not find default credentials")
}

func newTestResolver(secrets SecretAccessor) *Resolver {
	r := NewResolver(secrets, nil)
	r.findDefault = noADC
	return r
}

func writeKeyfile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "sa.json")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestResolve_SecretFirst(t *testing.T) {
	secrets := &fakeSecrets{data: map[string][]byte{"sa-key": []byte(saJSON)}}
	r := newTestResolver(secrets)

	res, err := r.Resolve(context.Background(), "holder", config.Credentials{
		SecretID:     "sa-key",
		KeyfileLocal: writeKeyfile(t, saJSON),
	})
	require.NoError(t, err)
	assert.Equal(t, SourceSecret, res.Source)
	assert.Equal(t, "sa-proj", res.ProjectID)
	assert.Equal(t, "robot@sa-proj.iam.gserviceaccount.com", res.Email)
	assert.NotEmpty(t, res.Options)
	assert.Equal(t, 1, secrets.calls)
}

func TestResolve_FallsBackToKeyfile(t *testing.T) {
	r := newTestResolver(&fakeSecrets{})

	res, err := r.Resolve(context.Background(), "holder", config.Credentials{
		SecretID:     "missing",
		KeyfileColab: "/nonexistent/colab.json",
		KeyfileLocal: writeKeyfile(t, saJSON),
	})
	require.NoError(t, err)
	assert.Equal(t, SourceKeyfileLocal, res.Source)
}

func TestResolve_KeyfileWithoutProjectUsesCaller(t *testing.T) {
	r := newTestResolver(nil)
	path := writeKeyfile(t, `{"type":"service_account","client_email":"a@b"}`)

	res, err := r.Resolve(context.Background(), "caller-proj", config.Credentials{KeyfileColab: path})
	require.NoError(t, err)
	assert.Equal(t, SourceKeyfileColab, res.Source)
	assert.Equal(t, "caller-proj", res.ProjectID)
}

func TestResolve_RejectsNonServiceAccount(t *testing.T) {
	r := newTestResolver(nil)
	path := writeKeyfile(t, `{"type":"authorized_user"}`)

	_, err := r.Resolve(context.Background(), "p", config.Credentials{KeyfileLocal: path})
	require.Error(t, err)
	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, err.Error(), "not a service account key")
}

func TestResolve_ADC(t *testing.T) {
	r := NewResolver(nil, nil)
	r.findDefault = func(context.Context, ...string) (*google.Credentials, error) {
		return &google.Credentials{ProjectID: "adc-proj"}, nil
	}

	res, err := r.Resolve(context.Background(), "", config.Credentials{})
	require.NoError(t, err)
	assert.Equal(t, SourceADC, res.Source)
	assert.Equal(t, "adc-proj", res.ProjectID)
	assert.Empty(t, res.Email)
}

func TestResolve_NothingWorks(t *testing.T) {
	r := newTestResolver(nil)

	_, err := r.Resolve(context.Background(), "p", config.Credentials{SecretID: "s"})
	require.Error(t, err)
	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, err.Error(), "no Secret Manager client")
	assert.Contains(t, err.Error(), "application default credentials")
}
