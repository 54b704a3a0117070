package crypto

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joncooperworks/pluginhost/crypto/keystore"
	"github.com/joncooperworks/pluginhost/plugin"
)

func generateKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub, priv
}

func TestSignModule_RoundTrip(t *testing.T) {
	pub, priv := generateKey(t)
	data := []byte("module bytes")

	sig, err := SignModule(priv, "alpha", data)
	require.NoError(t, err)
	assert.Len(t, sig, ed25519.SignatureSize)

	assert.NoError(t, VerifyModule(pub, "alpha", data, sig))
	assert.NoError(t, VerifyModule(pub, "alpha", data, EncodeSignature(sig)))
}

func TestVerifyModule_Rejects(t *testing.T) {
	pub, priv := generateKey(t)
	otherPub, _ := generateKey(t)
	data := []byte("module bytes")

	sig, err := SignModule(priv, "alpha", data)
	require.NoError(t, err)

	tests := []struct {
		name string
		pub  ed25519.PublicKey
		id   string
		data []byte
	}{
		{name: "tampered data", pub: pub, id: "alpha", data: []byte("module bytez")},
		{name: "renamed module", pub: pub, id: "beta", data: data},
		{name: "untrusted key", pub: otherPub, id: "alpha", data: data},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyModule(tt.pub, tt.id, tt.data, sig)
			assert.ErrorIs(t, err, ErrSignatureInvalid)
		})
	}
}

func TestSignModule_InvalidInput(t *testing.T) {
	_, priv := generateKey(t)

	_, err := SignModule(ed25519.PrivateKey{1, 2, 3}, "alpha", nil)
	assert.Error(t, err)

	_, err = SignModule(priv, "", nil)
	assert.Error(t, err)
}

func TestDecodeSignature(t *testing.T) {
	_, priv := generateKey(t)
	sig, err := SignModule(priv, "alpha", []byte("x"))
	require.NoError(t, err)

	got, err := DecodeSignature(EncodeSignature(sig))
	require.NoError(t, err)
	assert.Equal(t, sig, got)

	_, err = DecodeSignature([]byte("not base64!"))
	assert.Error(t, err)

	_, err = DecodeSignature([]byte("c2hvcnQ="))
	assert.Error(t, err, "decoded signature is too short")
}

func TestModuleVerifier(t *testing.T) {
	ctx := context.Background()
	pub, priv := generateKey(t)
	data := []byte("module bytes")
	sig, err := SignModule(priv, "alpha", data)
	require.NoError(t, err)

	t.Run("trusted key", func(t *testing.T) {
		store := keystore.NewMemoryTrustStore()
		otherPub, _ := generateKey(t)
		require.NoError(t, store.SetPublicKey("other", otherPub))
		require.NoError(t, store.SetPublicKey("release", pub))

		assert.NoError(t, NewModuleVerifier(store).Verify(ctx, "alpha", data, sig))
	})

	t.Run("no trusted keys", func(t *testing.T) {
		v := NewModuleVerifier(keystore.NewMemoryTrustStore())
		assert.ErrorIs(t, v.Verify(ctx, "alpha", data, sig), ErrNoTrustedKeys)
	})

	t.Run("untrusted signer", func(t *testing.T) {
		store := keystore.NewMemoryTrustStore()
		otherPub, _ := generateKey(t)
		require.NoError(t, store.SetPublicKey("other", otherPub))

		err := NewModuleVerifier(store).Verify(ctx, "alpha", data, sig)
		assert.ErrorIs(t, err, ErrSignatureInvalid)
	})

	t.Run("unsigned module", func(t *testing.T) {
		store := keystore.NewMemoryTrustStore()
		require.NoError(t, store.SetPublicKey("release", pub))

		assert.Error(t, NewModuleVerifier(store).Verify(ctx, "alpha", data, nil))
	})
}

func TestModuleVerifier_Logger(t *testing.T) {
	pub, priv := generateKey(t)
	data := []byte("module bytes")
	sig, err := SignModule(priv, "alpha", data)
	require.NoError(t, err)

	store := keystore.NewMemoryTrustStore()
	require.NoError(t, store.SetPublicKey("release", pub))

	var buf bytes.Buffer
	logger := log.NewWithOptions(&buf, log.Options{Level: log.DebugLevel})
	v := NewModuleVerifier(store, WithLogger(logger))

	require.NoError(t, v.Verify(context.Background(), "alpha", data, sig))
	assert.Contains(t, buf.String(), "module signature verified")
	assert.Contains(t, buf.String(), "release")
}

type greeter struct{ runs *int }

func (g *greeter) Execute(context.Context) error {
	*g.runs++
	return nil
}

type staticLoader struct{ runs *int }

func (l staticLoader) Load(_ context.Context, src plugin.Source) (plugin.Module, error) {
	return plugin.NewModule(src.ID, plugin.Export("Greeter", func() *greeter {
		return &greeter{runs: l.runs}
	})), nil
}

func TestModuleVerifier_Registry(t *testing.T) {
	ctx := context.Background()
	pub, priv := generateKey(t)
	data := []byte("module bytes")
	sig, err := SignModule(priv, "alpha", data)
	require.NoError(t, err)

	store := keystore.NewMemoryTrustStore()
	require.NoError(t, store.SetPublicKey("release", pub))

	newRegistry := func(fsys fs.FS, runs *int) *plugin.Registry {
		return plugin.New("",
			plugin.WithFS(fsys),
			plugin.WithLoader(".mod", staticLoader{runs: runs}),
			plugin.WithVerifier(NewModuleVerifier(store)),
		)
	}

	t.Run("signed module loads", func(t *testing.T) {
		var runs int
		reg := newRegistry(fstest.MapFS{
			"alpha.mod":     {Data: data},
			"alpha.mod.sig": {Data: EncodeSignature(sig)},
		}, &runs)

		require.NoError(t, reg.Load(ctx))
		require.NoError(t, reg.ExecuteAll(ctx))
		assert.Equal(t, 1, runs)
	})

	t.Run("tampered module is rejected", func(t *testing.T) {
		var runs int
		reg := newRegistry(fstest.MapFS{
			"alpha.mod":     {Data: []byte("evil bytes")},
			"alpha.mod.sig": {Data: sig},
		}, &runs)

		err := reg.Load(ctx)
		require.Error(t, err)
		var loadErr *plugin.LoadError
		require.True(t, errors.As(err, &loadErr))
		assert.Equal(t, "alpha", loadErr.Module)
		assert.ErrorIs(t, err, ErrSignatureInvalid)
		assert.Equal(t, plugin.StateFailed, reg.State())
		assert.Zero(t, reg.Len())
	})

	t.Run("missing signature is rejected", func(t *testing.T) {
		var runs int
		reg := newRegistry(fstest.MapFS{
			"alpha.mod": {Data: data},
		}, &runs)

		assert.Error(t, reg.Load(ctx))
		assert.Zero(t, reg.Len())
	})
}
